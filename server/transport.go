// SPDX-FileCopyrightText: Copyright (C) 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package server

import (
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/communicator/core/crypto/keys"
	"github.com/katzenpost/communicator/core/log"
)

// logTransport is the upper layer of a standalone server: it logs what
// the communicator hands upwards and has no backchannel.
type logTransport struct {
	log *logging.Logger
}

func newLogTransport(b *log.Backend) *logTransport {
	return &logTransport{log: b.GetLogger("transport")}
}

func (t *logTransport) Deliver(peer keys.PeerID, msg []byte) {
	t.log.Infof("Received %d byte message from %v", len(msg), peer)
}

func (t *logTransport) Backchannel(keys.PeerID, []byte) bool {
	return false
}

func (t *logTransport) QueueCredit(peer keys.PeerID, address string, delta int) {
	t.log.Debugf("Queue to %v at %v: credit %+d", peer, address, delta)
}

func (t *logTransport) QueueClosed(peer keys.PeerID, address string) {
	t.log.Debugf("Queue to %v at %v closed", peer, address)
}

func (t *logTransport) ValidateAddress(peer keys.PeerID, network, address string) {
	t.log.Noticef("Peer %v announced %v address %v", peer, network, address)
}
