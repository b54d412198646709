package linkio

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// GatewayProbe sends ICMP echo requests over an independent raw socket to
// check that a route's next hop actually answers, as a startup diagnostic
// separate from the pcap-captured forwarding path. A gateway that never
// answers still gets packets forwarded to it; the probe only logs.
type GatewayProbe struct {
	conn      *icmp.PacketConn
	logger    *slog.Logger
	available bool
	seq       uint16
	mu        sync.Mutex
}

// NewGatewayProbe opens the raw ICMP socket used for probing. If the
// socket can't be opened (missing CAP_NET_RAW), Probe degrades to always
// reporting unreachable rather than failing startup.
func NewGatewayProbe(logger *slog.Logger) *GatewayProbe {
	p := &GatewayProbe{logger: logger}

	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		logger.Warn("gateway reachability probing disabled: failed to open raw icmp socket",
			"error", err, "hint", "grant CAP_NET_RAW or run as root")
		return p
	}
	p.conn = conn
	p.available = true
	return p
}

// Available reports whether the probe has a working socket.
func (p *GatewayProbe) Available() bool { return p.available }

func (p *GatewayProbe) Close() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Probe sends one ICMP echo request to target and reports whether a reply
// arrived before ctx's deadline.
func (p *GatewayProbe) Probe(ctx context.Context, target net.IP) (bool, error) {
	if !p.available {
		return false, nil
	}

	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	msg := &icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  int(seq),
			Data: []byte("nat-router-gateway-probe"),
		},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return false, fmt.Errorf("marshalling icmp echo request: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := p.conn.SetDeadline(deadline); err != nil {
			return false, fmt.Errorf("setting icmp deadline: %w", err)
		}
	}

	dst := &net.IPAddr{IP: target}
	if _, err := p.conn.WriteTo(wire, dst); err != nil {
		return false, fmt.Errorf("sending icmp echo request: %w", err)
	}

	reply := make([]byte, 1500)
	for {
		n, peer, err := p.conn.ReadFrom(reply)
		if err != nil {
			return false, nil
		}
		if peer, ok := peer.(*net.IPAddr); !ok || !peer.IP.Equal(target) {
			continue
		}
		parsed, err := icmp.ParseMessage(1, reply[:n])
		if err != nil {
			continue
		}
		if parsed.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		body, ok := parsed.Body.(*icmp.Echo)
		if !ok || body.Seq != int(seq) {
			continue
		}
		return true, nil
	}
}

// ProbeAll probes every target concurrently with a shared per-probe
// timeout and returns the subset that answered. Intended for a one-shot
// startup check of each configured route's gateway.
func (p *GatewayProbe) ProbeAll(targets []net.IP, timeout time.Duration) []net.IP {
	var mu sync.Mutex
	var reachable []net.IP
	var wg sync.WaitGroup
	for _, target := range targets {
		target := target
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			ok, err := p.Probe(ctx, target)
			if err != nil {
				p.logger.Debug("gateway probe failed", "target", target, "error", err)
				return
			}
			if ok {
				mu.Lock()
				reachable = append(reachable, target)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return reachable
}
