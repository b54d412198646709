// Package linkio is the link-layer transport boundary: a small interface
// the pipeline reads and writes raw Ethernet frames through, a loopback
// implementation for tests, and a pcap-backed implementation for the live
// router process.
package linkio

import "errors"

// ErrClosed is returned by ReadFrame once the Link has been closed.
var ErrClosed = errors.New("linkio: link closed")

// Link is the transport boundary between the packet pipeline and the
// network interfaces it serves. ReadFrame blocks until a frame arrives on
// any attached interface or the Link is closed.
type Link interface {
	ReadFrame() (iface string, frame []byte, err error)
	WriteFrame(iface string, frame []byte) error
	Close() error
}
