package wire

import "encoding/binary"

// ICMP types and unreachable codes this router generates or consumes.
const (
	ICMPTypeEchoReply       uint8 = 0
	ICMPTypeDestUnreach     uint8 = 3
	ICMPTypeEchoRequest     uint8 = 8
	ICMPTypeTimeExceeded    uint8 = 11
	ICMPCodeNetUnreachable  uint8 = 0
	ICMPCodeHostUnreachable uint8 = 1
	ICMPCodePortUnreachable uint8 = 3
	// ICMPUnreachDataLen is the number of bytes of the original datagram's
	// payload echoed back after its IP header in an unreachable/time-
	// exceeded message (RFC 792).
	ICMPUnreachDataLen = 8
)

// MinICMPHeaderLen covers type, code, checksum, and the 4-byte
// type-specific field shared by echo and unreachable messages.
const MinICMPHeaderLen = 8

// ICMP is a structural view over an ICMP message.
type ICMP struct {
	buf []byte
}

// NewICMP constructs a view over buf, refusing anything shorter than the
// 8-byte common ICMP header.
func NewICMP(buf []byte) (ICMP, error) {
	if len(buf) < MinICMPHeaderLen {
		return ICMP{}, ErrBufferTooShort
	}
	return ICMP{buf: buf}, nil
}

func (m ICMP) Type() uint8     { return m.buf[0] }
func (m ICMP) Code() uint8     { return m.buf[1] }
func (m ICMP) Checksum() uint16 { return binary.BigEndian.Uint16(m.buf[2:4]) }

// ID and Seq are only meaningful for echo request/reply messages.
func (m ICMP) ID() uint16  { return binary.BigEndian.Uint16(m.buf[4:6]) }
func (m ICMP) Seq() uint16 { return binary.BigEndian.Uint16(m.buf[6:8]) }

func (m ICMP) SetType(t uint8)      { m.buf[0] = t }
func (m ICMP) SetCode(c uint8)      { m.buf[1] = c }
func (m ICMP) SetChecksum(c uint16) { binary.BigEndian.PutUint16(m.buf[2:4], c) }
func (m ICMP) SetID(id uint16)      { binary.BigEndian.PutUint16(m.buf[4:6], id) }
func (m ICMP) SetSeq(seq uint16)    { binary.BigEndian.PutUint16(m.buf[6:8], seq) }

func (m ICMP) Bytes() []byte { return m.buf }

// RecomputeChecksum zeroes the checksum field, computes the checksum over
// the whole ICMP message, and writes it back.
func (m ICMP) RecomputeChecksum() {
	m.SetChecksum(0)
	m.SetChecksum(Checksum(m.buf))
}

// VerifyChecksum reports whether the message's stored checksum matches the
// checksum recomputed over the message bytes.
func (m ICMP) VerifyChecksum() bool {
	want := m.Checksum()
	m.SetChecksum(0)
	got := Checksum(m.buf)
	m.SetChecksum(want)
	return got == want
}

// BuildUnreachable writes a destination-unreachable or time-exceeded
// message into dst (which must be at least MinICMPHeaderLen+len(origIPHeaderAndData)
// bytes) carrying the offending IP header plus ICMPUnreachDataLen bytes of
// its payload, per RFC 792's "unused/data" body. Callers pass the original
// IP header already truncated to header-length + ICMPUnreachDataLen bytes.
func BuildUnreachable(dst []byte, icmpType, code uint8, origIPHeaderAndData []byte) ICMP {
	n := len(origIPHeaderAndData)
	m := ICMP{buf: dst[:MinICMPHeaderLen+n]}
	m.SetType(icmpType)
	m.SetCode(code)
	m.SetChecksum(0)
	binary.BigEndian.PutUint32(m.buf[4:8], 0) // unused
	copy(m.buf[8:], origIPHeaderAndData)
	return m
}

// OriginalDatagramExcerpt returns the offending IP header plus up to
// ICMPUnreachDataLen bytes of its payload, for embedding in a generated
// unreachable or time-exceeded message.
func OriginalDatagramExcerpt(ipSegment []byte, headerLen int) []byte {
	n := headerLen + ICMPUnreachDataLen
	if n > len(ipSegment) {
		n = len(ipSegment)
	}
	out := make([]byte, n)
	copy(out, ipSegment[:n])
	return out
}
