// SPDX-FileCopyrightText: Copyright (C) 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package communicator

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddress(t *testing.T) {
	require := require.New(t)

	for _, s := range []string{
		"udp-192.0.2.1:2086",
		"udp-[2001:db8::1]:2086",
	} {
		addr, err := ParseAddress(s)
		require.NoError(err)
		require.Equal(s, FormatAddress(addr))
	}

	for _, s := range []string{
		"192.0.2.1:2086",
		"tcp-192.0.2.1:2086",
		"udp-192.0.2.1",
		"udp-192.0.2.1:0",
		"udp-example.org:2086",
	} {
		_, err := ParseAddress(s)
		require.ErrorIs(err, ErrInvalidAddress, s)
	}

	mapped := &net.UDPAddr{IP: net.ParseIP("::ffff:192.0.2.1"), Port: 2086}
	require.Equal("udp-192.0.2.1:2086", FormatAddress(mapped))
}
