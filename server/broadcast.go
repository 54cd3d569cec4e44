// SPDX-FileCopyrightText: Copyright (C) 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package server

import (
	"net"
	"time"

	"golang.org/x/net/ipv6"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/communicator/server/config"
)

// BeaconGroup is the IPv6 multicast group beacons are sent to.
var BeaconGroup = net.ParseIP("ff05::13b")

// beaconer periodically announces our address on the local networks, as
// IPv4 broadcasts and IPv6 multicasts.  It is only used from the event
// loop.
type beaconer struct {
	s        *Server
	log      *logging.Logger
	interval time.Duration
	port     int

	v4 bool
	v6 bool

	p6     *ipv6.PacketConn
	joined []net.Interface
}

func newBeaconer(s *Server) *beaconer {
	local := s.LocalAddr()
	b := &beaconer{
		s:        s,
		log:      s.logBackend.GetLogger("broadcast"),
		interval: config.Milliseconds(s.cfg.Debug.BroadcastInterval),
		port:     local.Port,
		v4:       local.IP == nil || local.IP.IsUnspecified() || local.IP.To4() != nil,
		v6:       local.IP == nil || local.IP.To4() == nil,
	}
	if b.v6 {
		b.joinGroups()
	}
	return b
}

func (b *beaconer) joinGroups() {
	b.p6 = ipv6.NewPacketConn(b.s.conn)
	if err := b.p6.SetMulticastLoopback(false); err != nil {
		b.log.Debugf("Failed to disable multicast loopback: %v", err)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		b.log.Warningf("Failed to list interfaces: %v", err)
		return
	}
	group := &net.UDPAddr{IP: BeaconGroup}
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := b.p6.JoinGroup(&ifi, group); err != nil {
			b.log.Debugf("Failed to join %v on %v: %v", BeaconGroup, ifi.Name, err)
			continue
		}
		b.joined = append(b.joined, ifi)
	}
	b.log.Debugf("Joined %v on %d interfaces", BeaconGroup, len(b.joined))
}

func (b *beaconer) close() {
	group := &net.UDPAddr{IP: BeaconGroup}
	for i := range b.joined {
		b.p6.LeaveGroup(&b.joined[i], group)
	}
	b.joined = nil
}

// send sends a beacon from every suitable interface address.
func (b *beaconer) send() {
	ifaces, err := net.Interfaces()
	if err != nil {
		b.log.Warningf("Failed to list interfaces: %v", err)
		return
	}
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipn.IP.To4(); ip4 != nil {
				if b.v4 && ifi.Flags&net.FlagBroadcast != 0 {
					b.sendBroadcast(ip4, ipn.Mask)
				}
			} else if b.v6 && ifi.Flags&net.FlagMulticast != 0 && ipn.IP.IsGlobalUnicast() {
				b.sendMulticast(&ifi, ipn.IP)
			}
		}
	}
}

func (b *beaconer) sendBroadcast(ip net.IP, mask net.IPMask) {
	bcast := broadcastAddress(ip, mask)
	if bcast == nil {
		return
	}
	from := &net.UDPAddr{IP: ip, Port: b.port}
	to := &net.UDPAddr{IP: bcast, Port: b.port}
	if _, err := b.s.conn.WriteToUDP(b.s.comm.Beacon(from), to); err != nil {
		b.log.Debugf("Failed to send beacon to %v: %v", to, err)
	}
}

func (b *beaconer) sendMulticast(ifi *net.Interface, ip net.IP) {
	from := &net.UDPAddr{IP: ip, Port: b.port}
	to := &net.UDPAddr{IP: BeaconGroup, Port: b.port}
	cm := &ipv6.ControlMessage{
		Src:     ip,
		IfIndex: ifi.Index,
	}
	if _, err := b.p6.WriteTo(b.s.comm.Beacon(from), cm, to); err != nil {
		b.log.Debugf("Failed to send beacon on %v: %v", ifi.Name, err)
	}
}

// broadcastAddress returns the directed broadcast address of the IPv4
// network ip is in.
func broadcastAddress(ip net.IP, mask net.IPMask) net.IP {
	ip = ip.To4()
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if ip == nil || len(mask) != net.IPv4len {
		return nil
	}
	bcast := make(net.IP, net.IPv4len)
	for i := range bcast {
		bcast[i] = ip[i] | ^mask[i]
	}
	return bcast
}
