// server.go - UDP communicator server.
// Copyright (C) 2017  Yawning Angel and David Stainton.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package server provides the UDP communicator server, which owns the
// socket and drives a communicator from a single event loop.
package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/hpqc/rand"
	"github.com/katzenpost/hpqc/sign/ed25519"
	signpem "github.com/katzenpost/hpqc/sign/pem"

	"github.com/katzenpost/communicator/communicator"
	"github.com/katzenpost/communicator/core/crypto/keys"
	"github.com/katzenpost/communicator/core/log"
	"github.com/katzenpost/communicator/internal/instrument"
	"github.com/katzenpost/communicator/internal/peerstore"
	"github.com/katzenpost/communicator/internal/profiling"
	"github.com/katzenpost/communicator/server/config"
)

const (
	identityPrivateKeyFile = "identity.private.pem"
	identityPublicKeyFile  = "identity.public.pem"
	peerStoreFile          = "peers.db"
)

// ErrGenerateOnly is the error returned when the server initialization
// terminates due to the `GenerateOnly` debug config option.
var ErrGenerateOnly = errors.New("server: GenerateOnly set")

// ErrHalted is the error returned when the server is shutting down.
var ErrHalted = errors.New("server: halted")

// Server is a communicator server instance.
type Server struct {
	sync.WaitGroup

	cfg *config.Config

	identity  *keys.Identity
	store     *peerstore.Store
	transport communicator.Transport
	comm      *communicator.Communicator
	conn      *net.UDPConn
	beacons   *beaconer
	metrics   *http.Server

	readCh chan *inbound
	opCh   chan func()

	logBackend *log.Backend
	log        *logging.Logger

	fatalErrCh chan error
	haltCh     chan interface{}
	haltedCh   chan interface{}
	haltOnce   sync.Once
}

// spawn runs fn in a goroutine that halt waits for.  fn must return once
// haltCh is closed.
func (s *Server) spawn(fn func()) {
	s.Add(1)
	go func() {
		defer s.Done()
		fn()
	}()
}

func (s *Server) isHalted() bool {
	select {
	case <-s.haltCh:
		return true
	default:
		return false
	}
}

func exists(f string) (bool, error) {
	_, err := os.Stat(f)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (s *Server) initDataDir() error {
	const dirMode = os.ModeDir | 0700
	d := s.cfg.Server.DataDir

	// Initialize the data directory, by ensuring that it exists (or can be
	// created), and that it has the appropriate permissions.
	if fi, err := os.Lstat(d); err != nil {
		// Directory doesn't exist, create one.
		if !os.IsNotExist(err) {
			return fmt.Errorf("server: failed to stat() DataDir: %v", err)
		}
		if err = os.Mkdir(d, dirMode); err != nil {
			return fmt.Errorf("server: failed to create DataDir: %v", err)
		}
	} else {
		if !fi.IsDir() {
			return fmt.Errorf("server: DataDir '%v' is not a directory", d)
		}
		if fi.Mode() != dirMode {
			return fmt.Errorf("server: DataDir '%v' has invalid permissions '%v'", d, fi.Mode())
		}
	}

	return nil
}

func (s *Server) initLogging() error {
	p := s.cfg.Logging.File
	if !s.cfg.Logging.Disable && s.cfg.Logging.File != "" {
		if !filepath.IsAbs(p) {
			p = filepath.Join(s.cfg.Server.DataDir, p)
		}
	}

	var err error
	s.logBackend, err = log.New(p, s.cfg.Logging.Level, s.cfg.Logging.Disable)
	if err == nil {
		s.log = s.logBackend.GetLogger("server")
	}
	return err
}

// initIdentity loads the identity key pair, generating it on first start.
func (s *Server) initIdentity() error {
	privFile := filepath.Join(s.cfg.Server.DataDir, identityPrivateKeyFile)
	pubFile := filepath.Join(s.cfg.Server.DataDir, identityPublicKeyFile)
	scheme := ed25519.Scheme()

	havePriv, err := exists(privFile)
	if err != nil {
		return err
	}
	havePub, err := exists(pubFile)
	if err != nil {
		return err
	}

	var privKey *ed25519.PrivateKey
	switch {
	case havePriv && havePub:
		s.log.Noticef("Using identity keypair which already exists: %s and %s", privFile, pubFile)
		k, err := signpem.FromPrivatePEMFile(privFile, scheme)
		if err != nil {
			return err
		}
		pubKey, err := signpem.FromPublicPEMFile(pubFile, scheme)
		if err != nil {
			return err
		}
		privKey = k.(*ed25519.PrivateKey)
		if !privKey.PublicKey().Equal(pubKey) {
			return fmt.Errorf("server: %s does not match %s", pubFile, privFile)
		}
	case !havePriv && !havePub:
		s.log.Noticef("Identity keypair does not exist, creating new keypair: %s and %s", privFile, pubFile)
		k, _, err := ed25519.NewKeypair(rand.Reader)
		if err != nil {
			return err
		}
		if err = signpem.PrivateKeyToFile(privFile, k); err != nil {
			return err
		}
		if err = signpem.PublicKeyToFile(pubFile, k.PublicKey()); err != nil {
			return err
		}
		privKey = k
	default:
		return fmt.Errorf("%s and %s must either both exist or not exist", privFile, pubFile)
	}

	s.identity, err = keys.IdentityFromPrivateKey(privKey)
	return err
}

func (s *Server) initMetrics() error {
	instrument.Init()
	if s.cfg.Server.MetricsAddress == "" {
		return nil
	}
	l, err := net.Listen("tcp", s.cfg.Server.MetricsAddress)
	if err != nil {
		return err
	}
	s.metrics = &http.Server{
		Handler:           instrument.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          s.logBackend.GetGoLogger("metrics", "DEBUG"),
	}
	s.spawn(func() {
		if err := s.metrics.Serve(l); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("Metrics listener failed: %v", err)
		}
	})
	s.log.Noticef("Serving metrics on %v", l.Addr())
	return nil
}

func (s *Server) initCommunicator() error {
	var err error
	s.comm, err = communicator.New(&communicator.Config{
		Identity:           s.identity,
		Transport:          s.transport,
		Monotime:           s.store,
		Transmit:           s.transmit,
		LogBackend:         s.logBackend,
		IdleTimeout:        config.Milliseconds(s.cfg.Debug.IdleTimeout),
		RekeyInterval:      config.Milliseconds(s.cfg.Rekey.Interval),
		RekeyMaxBytes:      s.cfg.Rekey.MaxBytes,
		RekeyRetryInterval: config.Milliseconds(s.cfg.Debug.RekeyRetryInterval),
		GenerateInterval:   config.Milliseconds(s.cfg.Debug.KCEGenerateInterval),
		ReplayFilterSize:   s.cfg.Debug.ReplayFilterSize,
	})
	return err
}

// LogBackend returns the server's log backend.
func (s *Server) LogBackend() *log.Backend {
	return s.logBackend
}

// PeerID returns the server's identity.
func (s *Server) PeerID() keys.PeerID {
	return s.identity.PeerID()
}

// LocalAddr returns the address the server's socket is bound to.
func (s *Server) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Exec runs fn on the event loop, which owns the communicator, and waits
// for it to return.  It must not be called from a Transport callback.
func (s *Server) Exec(fn func(c *communicator.Communicator)) error {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn(s.comm)
	}
	select {
	case s.opCh <- op:
	case <-s.haltCh:
		return ErrHalted
	}
	select {
	case <-done:
		return nil
	case <-s.haltCh:
		return ErrHalted
	}
}

// Send sends msg in a box on the data queue towards peer at address.
func (s *Server) Send(peer keys.PeerID, address string, msg []byte) error {
	var err error
	if xerr := s.Exec(func(c *communicator.Communicator) {
		var q *communicator.Queue
		if q, err = c.OpenQueue(peer, address); err == nil {
			err = q.Send(msg)
		}
	}); xerr != nil {
		return xerr
	}
	return err
}

// SendHandshake sends msg in a KX towards peer at address.
func (s *Server) SendHandshake(peer keys.PeerID, address string, msg []byte) error {
	var err error
	if xerr := s.Exec(func(c *communicator.Communicator) {
		var q *communicator.Queue
		if q, err = c.OpenQueue(peer, address); err == nil {
			err = q.SendHandshake(msg)
		}
	}); xerr != nil {
		return xerr
	}
	return err
}

// Credit returns how many messages Send may currently send towards peer at
// address.
func (s *Server) Credit(peer keys.PeerID, address string) (int, error) {
	var (
		n   int
		err error
	)
	if xerr := s.Exec(func(c *communicator.Communicator) {
		var q *communicator.Queue
		if q, err = c.OpenQueue(peer, address); err == nil {
			n = q.Credit()
		}
	}); xerr != nil {
		return 0, xerr
	}
	return n, err
}

// HandleBackchannel passes an ack that arrived through the upper layer to
// the communicator.
func (s *Server) HandleBackchannel(peer keys.PeerID, ack []byte) error {
	var err error
	if xerr := s.Exec(func(c *communicator.Communicator) {
		err = c.HandleBackchannel(peer, ack)
	}); xerr != nil {
		return xerr
	}
	return err
}

// Shutdown cleanly shuts down a given Server instance.
func (s *Server) Shutdown() {
	s.haltOnce.Do(func() { s.halt() })
}

// Wait waits till the server is terminated for any reason.
func (s *Server) Wait() {
	<-s.haltedCh
}

func (s *Server) halt() {
	s.log.Noticef("Starting graceful shutdown.")

	// Closing the socket unblocks the reader, and closing haltCh stops
	// the event loop, which tears the communicator down.
	if s.conn != nil {
		s.conn.Close()
	}
	if s.metrics != nil {
		s.metrics.Close()
	}
	close(s.haltCh)
	s.WaitGroup.Wait()

	if s.store != nil {
		s.store.Close()
		s.store = nil
	}

	s.log.Noticef("Shutdown complete.")
	close(s.haltedCh)
}

// RotateLog rotates the log file
// if logging to a file is enabled.
func (s *Server) RotateLog() {
	err := s.logBackend.Rotate()
	if err != nil {
		s.fatalError(fmt.Errorf("failed to rotate log file, shutting down server: %w", err))
	}
}

// fatalError shuts the server down with err, unless it is already halting.
func (s *Server) fatalError(err error) {
	select {
	case s.fatalErrCh <- err:
	case <-s.haltCh:
	}
}

// New returns a new Server instance parameterized with the specific
// configuration, delivering to an upper layer that only logs.
func New(cfg *config.Config) (*Server, error) {
	return NewWithTransport(cfg, nil)
}

// NewWithTransport returns a new Server instance delivering to the given
// upper layer.  Transport callbacks run on the event loop.
func NewWithTransport(cfg *config.Config, transport communicator.Transport) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		readCh:     make(chan *inbound),
		opCh:       make(chan func()),
		fatalErrCh: make(chan error),
		haltCh:     make(chan interface{}),
		haltedCh:   make(chan interface{}),
	}

	// Do the early initialization and bring up logging.
	if err := s.initDataDir(); err != nil {
		return nil, err
	}
	if err := s.initLogging(); err != nil {
		return nil, err
	}

	s.log.Notice("Starting UDP communicator")
	if s.cfg.Logging.Level == "DEBUG" {
		s.log.Warning("Debug logging is enabled.")
	}

	if err := s.initIdentity(); err != nil {
		s.log.Errorf("Failed to initialize identity: %v", err)
		return nil, err
	}
	s.log.Noticef("Identity: %v", s.identity.PeerID())
	if s.cfg.Debug.GenerateOnly {
		return nil, ErrGenerateOnly
	}

	// Past this point, failures need to call s.Shutdown() to do cleanup.
	isOk := false
	defer func() {
		if !isOk {
			s.Shutdown()
		}
	}()

	if transport == nil {
		transport = newLogTransport(s.logBackend)
	}
	s.transport = transport

	if err := profiling.Start(s.log, s.cfg.Profiling.ServerAddress, s.cfg.Profiling.ApplicationName); err != nil {
		s.log.Errorf("Failed to start profiling: %v", err)
		return nil, err
	}

	var err error
	if s.store, err = peerstore.New(filepath.Join(s.cfg.Server.DataDir, peerStoreFile)); err != nil {
		s.log.Errorf("Failed to open the peer store: %v", err)
		return nil, err
	}
	if err = s.initMetrics(); err != nil {
		s.log.Errorf("Failed to start the metrics listener: %v", err)
		return nil, err
	}
	if err = s.initCommunicator(); err != nil {
		s.log.Errorf("Failed to initialize the communicator: %v", err)
		return nil, err
	}
	if err = s.initSocket(); err != nil {
		s.log.Errorf("Failed to bind %v: %v", s.cfg.Server.BindAddress, err)
		return nil, err
	}
	if !s.cfg.Server.DisableBroadcasts {
		s.beacons = newBeaconer(s)
	}

	s.spawn(s.reader)
	s.spawn(s.eventLoop)

	// Monitor the fatal error channel.
	go func() {
		select {
		case err := <-s.fatalErrCh:
			s.log.Warningf("Shutting down due to error: %v", err)
			s.Shutdown()
		case <-s.haltCh:
		}
	}()

	isOk = true
	return s, nil
}
