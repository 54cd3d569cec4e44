// SPDX-FileCopyrightText: Copyright (C) 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package communicator

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// AddressPrefix is the prefix of every communicator address string.
const AddressPrefix = "udp-"

// Network is the network name addresses are validated under.
const Network = "udp"

// ParseAddress parses an address string of the form "udp-192.0.2.1:2086"
// or "udp-[2001:db8::1]:2086".
func ParseAddress(s string) (*net.UDPAddr, error) {
	rest, ok := strings.CutPrefix(s, AddressPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: missing %q prefix: %q", ErrInvalidAddress, AddressPrefix, s)
	}
	ap, err := netip.ParseAddrPort(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if ap.Port() == 0 {
		return nil, fmt.Errorf("%w: port 0: %q", ErrInvalidAddress, s)
	}
	return net.UDPAddrFromAddrPort(ap), nil
}

// FormatAddress returns the address string of a, with IPv4 mapped IPv6
// addresses shown as plain IPv4.
func FormatAddress(a *net.UDPAddr) string {
	ap := a.AddrPort()
	ap = netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	return AddressPrefix + ap.String()
}
