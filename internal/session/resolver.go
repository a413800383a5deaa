package session

import (
	"context"
	"net"
	"time"
)

// Candidate is one resolved address a connect attempt can be made against.
type Candidate struct {
	IP net.IP
}

// Resolver wraps asynchronous hostname resolution. It never blocks the
// caller's goroutine beyond the configured timeout, and returns an ordered
// candidate list mixing address families the way net.Resolver.LookupIPAddr
// already orders them.
type Resolver struct {
	timeout time.Duration
	lookup  func(ctx context.Context, host string) ([]net.IPAddr, error)
}

// NewResolver returns a Resolver bounded by timeout.
func NewResolver(timeout time.Duration) *Resolver {
	r := &net.Resolver{}
	return &Resolver{timeout: timeout, lookup: r.LookupIPAddr}
}

// Resolve looks up host and returns its candidate addresses in the order
// the resolver returned them. The returned error, if any, is the raw
// resolution error for REP-code classification by the caller.
func (r *Resolver) Resolve(ctx context.Context, host string) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	addrs, err := r.lookup(ctx, host)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(addrs))
	for _, a := range addrs {
		candidates = append(candidates, Candidate{IP: a.IP})
	}
	return candidates, nil
}
