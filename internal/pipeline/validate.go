package pipeline

import "github.com/athena-dhcpd/nat-router/internal/wire"

// validateIPv4 recomputes and compares the IP header checksum and checks
// the minimum total-length requirement.
func validateIPv4(ip wire.IPv4) bool {
	if ip.TotalLen() < wire.MinIPv4HeaderLen {
		return false
	}
	return ip.VerifyChecksum()
}

// validateICMP recomputes the ICMP checksum over exactly
// (total length - IP header length) bytes, per spec.md §4.5.
func validateICMP(ip wire.IPv4, icmp wire.ICMP) bool {
	expectedLen := int(ip.TotalLen()) - ip.HeaderLen()
	if expectedLen != len(icmp.Bytes()) {
		return false
	}
	return icmp.VerifyChecksum()
}

// validateTCP checks the minimum data offset and recomputes the
// pseudo-header checksum.
func validateTCP(ip wire.IPv4, tcp wire.TCP) bool {
	if tcp.DataOffset() < 5 {
		return false
	}
	return tcp.VerifyChecksum(ip.SrcIP(), ip.DstIP())
}
