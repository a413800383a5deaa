package socks5

import (
	"encoding/binary"
	"net"
)

// AppendReply appends a SOCKS5 reply message (VER, REP, RSV, ATYP,
// BND.ADDR, BND.PORT) to buf and returns the extended slice. A nil bindIP
// is encoded as ATYP=IPv4 with an all-zero BND.ADDR, the usual form for
// error replies; any non-IPv4 bindIP, including ::, is encoded as ATYP=IPv6.
func AppendReply(buf []byte, rep uint8, bindIP net.IP, bindPort uint16) []byte {
	buf = append(buf, Version, rep, 0x00)

	if v4 := bindIP.To4(); bindIP != nil && v4 != nil {
		buf = append(buf, ATYPIPv4)
		buf = append(buf, v4...)
	} else if bindIP != nil {
		buf = append(buf, ATYPIPv6)
		buf = append(buf, bindIP.To16()...)
	} else {
		buf = append(buf, ATYPIPv4, 0, 0, 0, 0)
	}

	var portBytes [2]byte
	binary.BigEndian.PutUint16(portBytes[:], bindPort)
	return append(buf, portBytes[:]...)
}
