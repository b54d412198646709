package wire

import "encoding/binary"

// TCP flag bits (RFC 793 §3.1).
const (
	TCPFlagFIN uint8 = 0x01
	TCPFlagSYN uint8 = 0x02
	TCPFlagRST uint8 = 0x04
	TCPFlagPSH uint8 = 0x08
	TCPFlagACK uint8 = 0x10
	TCPFlagURG uint8 = 0x20
)

// MinTCPHeaderLen is the minimum legal TCP header length (data offset 5).
const MinTCPHeaderLen = 20

// TCP is a structural view over a TCP segment (header + payload).
type TCP struct {
	buf []byte
}

// NewTCP constructs a view over buf, refusing a buffer shorter than a
// minimal header or whose data offset claims more than is present.
func NewTCP(buf []byte) (TCP, error) {
	if len(buf) < MinTCPHeaderLen {
		return TCP{}, ErrBufferTooShort
	}
	t := TCP{buf: buf}
	if t.DataOffset() < 5 || len(buf) < t.HeaderLen() {
		return TCP{}, ErrBufferTooShort
	}
	return t, nil
}

func (t TCP) SrcPort() uint16   { return binary.BigEndian.Uint16(t.buf[0:2]) }
func (t TCP) DstPort() uint16   { return binary.BigEndian.Uint16(t.buf[2:4]) }
func (t TCP) Seq() uint32       { return binary.BigEndian.Uint32(t.buf[4:8]) }
func (t TCP) Ack() uint32       { return binary.BigEndian.Uint32(t.buf[8:12]) }
func (t TCP) DataOffset() uint8 { return t.buf[12] >> 4 }
func (t TCP) HeaderLen() int    { return int(t.DataOffset()) * 4 }
func (t TCP) Flags() uint8      { return t.buf[13] }
func (t TCP) Checksum() uint16  { return binary.BigEndian.Uint16(t.buf[16:18]) }

func (t TCP) HasFlag(f uint8) bool { return t.Flags()&f != 0 }

func (t TCP) SetSrcPort(p uint16)  { binary.BigEndian.PutUint16(t.buf[0:2], p) }
func (t TCP) SetDstPort(p uint16)  { binary.BigEndian.PutUint16(t.buf[2:4], p) }
func (t TCP) SetChecksum(c uint16) { binary.BigEndian.PutUint16(t.buf[16:18], c) }

func (t TCP) Bytes() []byte { return t.buf }

// RecomputeChecksum zeroes the checksum field and recomputes it over the
// TCP/IPv4 pseudo-header concatenated with the full segment.
func (t TCP) RecomputeChecksum(srcIP, dstIP [4]byte) {
	t.SetChecksum(0)
	t.SetChecksum(TCPChecksum(srcIP, dstIP, t.buf))
}

// VerifyChecksum reports whether the segment's stored checksum matches the
// pseudo-header checksum recomputed over the segment.
func (t TCP) VerifyChecksum(srcIP, dstIP [4]byte) bool {
	want := t.Checksum()
	t.SetChecksum(0)
	got := TCPChecksum(srcIP, dstIP, t.buf)
	t.SetChecksum(want)
	return got == want
}
