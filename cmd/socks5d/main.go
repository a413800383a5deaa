// Command socks5d runs the local SOCKS5 CONNECT proxy.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ealireza/socks5proxy/internal/config"
	"github.com/ealireza/socks5proxy/internal/listener"
	"github.com/ealireza/socks5proxy/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	testConfig := flag.Bool("t", false, "test configuration and exit")
	logLevel := flag.String("loglevel", "", "override the config file's log_level (error|info|debug)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if *testConfig {
			fmt.Fprintf(os.Stderr, "configuration test FAILED: %v\n", err)
			os.Exit(1)
		}
		log.Fatalf("[main] %v", err)
	}

	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if *testConfig {
		fmt.Printf("configuration file %s test OK\n", *configPath)
		fmt.Printf("  listen: %s:%d (backlog %d)\n", cfg.Host, cfg.Port, cfg.Backlog)
		fmt.Printf("  session buffer: %d bytes\n", cfg.SessionBufferBytes)
		fmt.Printf("  keepalive: %ds  dns timeout: %ds\n", cfg.KeepAliveSeconds, cfg.DNSTimeoutSeconds)
		os.Exit(0)
	}

	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	mainLog := logging.New("main")

	srv, err := listener.Listen(context.Background(), cfg)
	if err != nil {
		mainLog.Fatalf("%v", err)
	}

	mainLog.Infof("socks5://%s listening (no-auth, CONNECT only)", srv.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		mainLog.Infof("received signal %s, shutting down", sig)
		srv.Close()
	case err := <-errCh:
		if err != nil {
			mainLog.Fatalf("serve: %v", err)
		}
	}
}
