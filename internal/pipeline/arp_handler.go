package pipeline

import (
	"net"

	"github.com/athena-dhcpd/nat-router/internal/wire"
)

// handleARP validates hardware/protocol type, drops anything not destined
// to a local interface, and otherwise replies to requests or absorbs
// replies (flushing any packets they were blocking).
func (p *Pipeline) handleARP(iface string, frame []byte, eth wire.Ethernet) {
	a, err := wire.NewARP(eth.Payload())
	if err != nil {
		p.logger.Debug("dropping arp frame: too short", "iface", iface)
		return
	}
	if a.HType() != wire.ARPHTypeEther || a.PType() != wire.ARPPTypeIPv4 {
		p.logger.Debug("dropping arp frame: unsupported hw/proto type", "iface", iface)
		return
	}
	if !p.ifaces.Owns(a.TargetIP()) {
		return
	}

	switch a.Opcode() {
	case wire.ARPOpRequest:
		p.replyToARPRequest(iface, frame, a)
	case wire.ARPOpReply:
		p.absorbARPReply(a)
	default:
		p.logger.Debug("dropping arp frame: unsupported opcode", "iface", iface, "opcode", a.Opcode())
	}
}

func (p *Pipeline) replyToARPRequest(iface string, frame []byte, a wire.ARP) {
	local, ok := p.ifaces.Get(iface)
	if !ok {
		return
	}
	senderMAC := a.SenderMAC()
	senderIP := make(net.IP, 4)
	copy(senderIP, a.SenderIP())

	a.SetTargetMAC(senderMAC)
	a.SetTargetIP(senderIP)
	a.SetSenderMAC(local.MAC)
	a.SetSenderIP(local.IP)
	a.SetOpcode(wire.ARPOpReply)

	eth, err := wire.NewEthernet(frame)
	if err != nil {
		return
	}
	eth.SetDst(senderMAC)
	eth.SetSrc(local.MAC)

	if err := p.sender.WriteFrame(iface, frame); err != nil {
		p.logger.Warn("failed to write arp reply", "iface", iface, "error", err)
	}
}

func (p *Pipeline) absorbARPReply(a wire.ARP) {
	senderIP := make(net.IP, 4)
	copy(senderIP, a.SenderIP())
	senderMAC := a.SenderMAC()

	req := p.arp.Insert(senderMAC, senderIP)
	if req == nil {
		return
	}
	for _, pkt := range req.Queue {
		iface, ok := p.ifaces.Get(pkt.OutIface)
		if !ok {
			continue
		}
		eth, err := wire.NewEthernet(pkt.Frame)
		if err != nil {
			continue
		}
		eth.SetDst(senderMAC)
		eth.SetSrc(iface.MAC)
		if err := p.sender.WriteFrame(pkt.OutIface, pkt.Frame); err != nil {
			p.logger.Warn("failed to write queued frame after arp resolution", "iface", pkt.OutIface, "error", err)
		}
	}
}
