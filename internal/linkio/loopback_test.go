package linkio

import (
	"bytes"
	"testing"
)

func TestLoopbackInjectAndReadFrame(t *testing.T) {
	l := NewLoopback(4)
	l.Inject("eth1", []byte{1, 2, 3})

	iface, frame, err := l.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if iface != "eth1" || !bytes.Equal(frame, []byte{1, 2, 3}) {
		t.Errorf("got iface=%q frame=%v, want eth1/[1 2 3]", iface, frame)
	}
}

func TestLoopbackWriteFrameRecordsByInterface(t *testing.T) {
	l := NewLoopback(4)
	if err := l.WriteFrame("eth2", []byte{9, 9}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := l.WriteFrame("eth2", []byte{1}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	written := l.Written("eth2")
	if len(written) != 2 {
		t.Fatalf("len(written) = %d, want 2", len(written))
	}
	if len(l.Written("eth1")) != 0 {
		t.Error("eth1 should have no written frames")
	}
}

func TestLoopbackCloseUnblocksReadFrame(t *testing.T) {
	l := NewLoopback(0)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, _, err := l.ReadFrame(); err != ErrClosed {
		t.Errorf("ReadFrame after close = %v, want ErrClosed", err)
	}
	if err := l.WriteFrame("eth1", []byte{1}); err != ErrClosed {
		t.Errorf("WriteFrame after close = %v, want ErrClosed", err)
	}
}

func TestLoopbackClosedIsIdempotent(t *testing.T) {
	l := NewLoopback(0)
	if err := l.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
