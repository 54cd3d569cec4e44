// SPDX-FileCopyrightText: Copyright (C) 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package server

import (
	"errors"
	"net"
	"time"
)

// maxReadSize is larger than any datagram we send, so that an oversized
// one is read whole and dropped by size instead of being truncated into
// something plausible.
const maxReadSize = 65535

// idleWakeup bounds how long the event loop sleeps with no task due.
const idleWakeup = time.Minute

type inbound struct {
	b    []byte
	from *net.UDPAddr
}

func (s *Server) initSocket() error {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.Server.BindAddress)
	if err != nil {
		return err
	}
	if s.conn, err = net.ListenUDP("udp", addr); err != nil {
		return err
	}
	s.log.Noticef("Listening on %v", s.conn.LocalAddr())
	return nil
}

func (s *Server) transmit(b []byte, to *net.UDPAddr) error {
	_, err := s.conn.WriteToUDP(b, to)
	return err
}

// reader reads datagrams and hands them to the event loop, and is the
// only goroutine blocking on the socket.
func (s *Server) reader() {
	buf := make([]byte, maxReadSize)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.isHalted() {
				return
			}
			s.log.Warningf("Failed to read datagram: %v", err)
			continue
		}

		in := &inbound{
			b:    append([]byte{}, buf[:n]...),
			from: from,
		}
		select {
		case s.readCh <- in:
		case <-s.haltCh:
			return
		}
	}
}

// eventLoop is the only goroutine that touches the communicator.  Each
// iteration processes a single event: a datagram, an upper layer call, a
// beacon, or due communicator tasks.
func (s *Server) eventLoop() {
	timer := time.NewTimer(idleWakeup)
	defer timer.Stop()

	var beaconCh <-chan time.Time
	if s.beacons != nil {
		ticker := time.NewTicker(s.beacons.interval)
		defer ticker.Stop()
		beaconCh = ticker.C
		s.beacons.send()
	}

	defer func() {
		s.comm.Close()
		if s.beacons != nil {
			s.beacons.close()
		}
		s.log.Debugf("Event loop terminated.")
	}()

	for {
		s.comm.RunDue()

		wait := idleWakeup
		if deadline, ok := s.comm.NextDeadline(); ok {
			wait = max(time.Until(deadline), 0)
		}
		timer.Reset(wait)

		select {
		case <-s.haltCh:
			return
		case in := <-s.readCh:
			s.comm.HandleDatagram(in.b, in.from)
		case op := <-s.opCh:
			op()
		case <-beaconCh:
			s.beacons.send()
		case <-timer.C:
		}
	}
}
