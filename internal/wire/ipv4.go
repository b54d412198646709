package wire

import "encoding/binary"

// IP protocol numbers this router cares about.
const (
	ProtocolICMP uint8 = 1
	ProtocolTCP  uint8 = 6
	ProtocolUDP  uint8 = 17
)

// MinIPv4HeaderLen is the minimum legal IPv4 header length (IHL=5).
const MinIPv4HeaderLen = 20

// IPv4 is a structural view over an IPv4 header. The header length (and
// therefore the start of the payload) is always read from IHL, never
// assumed — the router must honour the IHL of received packets even though
// it only ever generates IHL=5 headers itself.
type IPv4 struct {
	buf []byte
}

// NewIPv4 constructs a view over buf, refusing anything shorter than a
// minimal 20-byte header or whose declared IHL extends past the buffer.
func NewIPv4(buf []byte) (IPv4, error) {
	if len(buf) < MinIPv4HeaderLen {
		return IPv4{}, ErrBufferTooShort
	}
	ip := IPv4{buf: buf}
	if len(buf) < int(ip.IHL())*4 {
		return IPv4{}, ErrBufferTooShort
	}
	return ip, nil
}

func (h IPv4) Version() uint8    { return h.buf[0] >> 4 }
func (h IPv4) IHL() uint8        { return h.buf[0] & 0x0f }
func (h IPv4) HeaderLen() int    { return int(h.IHL()) * 4 }
func (h IPv4) TOS() uint8        { return h.buf[1] }
func (h IPv4) TotalLen() uint16  { return binary.BigEndian.Uint16(h.buf[2:4]) }
func (h IPv4) ID() uint16        { return binary.BigEndian.Uint16(h.buf[4:6]) }
func (h IPv4) FlagsFrag() uint16 { return binary.BigEndian.Uint16(h.buf[6:8]) }
func (h IPv4) TTL() uint8        { return h.buf[8] }
func (h IPv4) Protocol() uint8   { return h.buf[9] }
func (h IPv4) Checksum() uint16  { return binary.BigEndian.Uint16(h.buf[10:12]) }
func (h IPv4) SrcIP() [4]byte    { var b [4]byte; copy(b[:], h.buf[12:16]); return b }
func (h IPv4) DstIP() [4]byte    { var b [4]byte; copy(b[:], h.buf[16:20]); return b }

func (h IPv4) SetTotalLen(v uint16) { binary.BigEndian.PutUint16(h.buf[2:4], v) }
func (h IPv4) SetTTL(v uint8)       { h.buf[8] = v }
func (h IPv4) SetProtocol(p uint8)  { h.buf[9] = p }
func (h IPv4) SetChecksum(v uint16) { binary.BigEndian.PutUint16(h.buf[10:12], v) }
func (h IPv4) SetSrcIP(ip [4]byte)  { copy(h.buf[12:16], ip[:]) }
func (h IPv4) SetDstIP(ip [4]byte)  { copy(h.buf[16:20], ip[:]) }

// Payload returns the bytes after the IP header (length given by IHL), up
// to TotalLen.
func (h IPv4) Payload() []byte {
	hl := h.HeaderLen()
	tl := int(h.TotalLen())
	if tl > len(h.buf) {
		tl = len(h.buf)
	}
	if hl > tl {
		return nil
	}
	return h.buf[hl:tl]
}

// Bytes returns the full IP segment (header + payload) this view covers.
func (h IPv4) Bytes() []byte { return h.buf }

// RecomputeChecksum zeroes the checksum field, computes the checksum over
// the header (IHL*4 bytes, including options), and writes it back. This is
// the required idiom for any IPv4 header mutation.
func (h IPv4) RecomputeChecksum() {
	h.SetChecksum(0)
	h.SetChecksum(Checksum(h.buf[:h.HeaderLen()]))
}

// VerifyChecksum reports whether the header's stored checksum matches the
// checksum recomputed over the header bytes.
func (h IPv4) VerifyChecksum() bool {
	want := h.Checksum()
	save := want
	h.SetChecksum(0)
	got := Checksum(h.buf[:h.HeaderLen()])
	h.SetChecksum(save)
	return got == want
}
