package nat

import "github.com/athena-dhcpd/nat-router/internal/wire"

// ApplyOutbound drives c's TCP state machine for a segment travelling
// internal->external (the client side). Only the five transitions spec.md
// §4.4 names are implemented; any other (state, segment) combination
// leaves c unchanged.
func ApplyOutbound(c *Connection, flags uint8, seq, ack uint32) {
	switch c.State {
	case StateClosed:
		if flags&wire.TCPFlagSYN != 0 && flags&wire.TCPFlagACK == 0 && ack == 0 {
			c.State = StateSynSent
			c.ClientSeq = seq
		}
	case StateSynReceived:
		if flags&wire.TCPFlagSYN == 0 && flags&wire.TCPFlagACK != 0 &&
			seq == c.ClientSeq+1 && ack == c.ServerSeq+1 {
			c.State = StateEstablished
			c.ClientSeq = seq
		}
	case StateEstablished:
		if flags&wire.TCPFlagFIN != 0 && flags&wire.TCPFlagACK != 0 {
			c.State = StateClosed
			c.ClientSeq = seq
		}
	}
}

// ApplyInbound drives c's TCP state machine for a segment travelling
// external->internal (the server side). It reports whether the segment
// must additionally be parked as an unsolicited-SYN entry: spec.md §4.4
// requires parking any inbound SYN that transitions to, or remains in,
// syn-sent/syn-received, so a genuinely unmatched SYN can still trigger
// the 6-second port-unreachable rule even once a mapping exists.
func ApplyInbound(c *Connection, flags uint8, seq, ack uint32) (shouldPark bool) {
	switch c.State {
	case StateSynSent:
		switch {
		case flags&wire.TCPFlagSYN != 0 && flags&wire.TCPFlagACK != 0 && ack == c.ClientSeq+1:
			c.State = StateSynReceived
			c.ServerSeq = seq
			return true
		case flags&wire.TCPFlagSYN != 0 && flags&wire.TCPFlagACK == 0 && ack == 0:
			// Simultaneous open (RFC 793 §3.4): both sides sent a bare SYN.
			c.State = StateSynReceived
			c.ServerSeq = seq
			return true
		}
		return flags&wire.TCPFlagSYN != 0
	case StateSynReceived:
		return flags&wire.TCPFlagSYN != 0
	}
	return false
}
