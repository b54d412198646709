package linkio

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// snapLen is large enough for any frame this router builds or forwards;
// jumbo frames are out of scope.
const snapLen = 65536

// PcapLink captures and injects raw Ethernet frames on a fixed set of
// interfaces via libpcap, one live handle per interface. It is the
// production Link the router process wires into the pipeline.
type PcapLink struct {
	handles map[string]*pcap.Handle
	frames  chan loopbackFrame

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// OpenPcapLink opens a promiscuous live capture on each of ifaceNames and
// starts one reader goroutine per interface feeding a shared frame
// channel. Failing to open any interface rolls back every handle already
// opened.
func OpenPcapLink(ifaceNames []string, readTimeout time.Duration) (*PcapLink, error) {
	l := &PcapLink{
		handles: make(map[string]*pcap.Handle, len(ifaceNames)),
		frames:  make(chan loopbackFrame, 256),
		done:    make(chan struct{}),
	}
	for _, name := range ifaceNames {
		h, err := pcap.OpenLive(name, snapLen, true, readTimeout)
		if err != nil {
			l.closeHandles()
			return nil, fmt.Errorf("linkio: open %s: %w", name, err)
		}
		l.handles[name] = h
	}
	for name, h := range l.handles {
		l.wg.Add(1)
		go l.capture(name, h)
	}
	return l, nil
}

func (l *PcapLink) capture(iface string, h *pcap.Handle) {
	defer l.wg.Done()
	src := gopacket.NewPacketSource(h, h.LinkType())
	for {
		select {
		case <-l.done:
			return
		case packet, ok := <-src.Packets():
			if !ok {
				return
			}
			buf := make([]byte, len(packet.Data()))
			copy(buf, packet.Data())
			select {
			case l.frames <- loopbackFrame{iface: iface, frame: buf}:
			case <-l.done:
				return
			}
		}
	}
}

func (l *PcapLink) ReadFrame() (string, []byte, error) {
	select {
	case m, ok := <-l.frames:
		if !ok {
			return "", nil, ErrClosed
		}
		return m.iface, m.frame, nil
	case <-l.done:
		return "", nil, ErrClosed
	}
}

func (l *PcapLink) WriteFrame(iface string, frame []byte) error {
	h, ok := l.handles[iface]
	if !ok {
		return fmt.Errorf("linkio: unknown interface %q", iface)
	}
	return h.WritePacketData(frame)
}

func (l *PcapLink) closeHandles() {
	for _, h := range l.handles {
		h.Close()
	}
}

func (l *PcapLink) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.closeHandles()
		l.wg.Wait()
	})
	return nil
}
