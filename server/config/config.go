// config.go - UDP communicator server configuration.
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

// Package config provides the UDP communicator server configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultPort               = "2086"
	defaultLogLevel           = "NOTICE"
	defaultRekeyInterval      = 4 * 60 * 60 * 1000 // 4 hours.
	defaultRekeyMaxBytes      = 4 << 30
	defaultIdleTimeout        = 5 * 60 * 1000 // 5 min.
	defaultRekeyRetryInterval = 5 * 1000      // 5 sec.
	defaultGenerateInterval   = 10            // 10 ms.
	defaultBroadcastInterval  = 30 * 1000     // 30 sec.
	defaultReplayFilterSize   = 23
	defaultApplicationName    = "udpcomm"
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Server is the communicator server configuration.
type Server struct {
	// BindAddress is the UDP port or address to bind to, either a bare
	// port ("2086"), ":port", or "ip:port".
	BindAddress string

	// DataDir is the absolute path to the server's state files.
	DataDir string

	// DisableBroadcasts disables sending beacons on the local networks.
	DisableBroadcasts bool

	// MetricsAddress is the address the prometheus statistics are served
	// on, or empty to not serve them.
	MetricsAddress string
}

func (sCfg *Server) validate() error {
	if sCfg.BindAddress == "" {
		sCfg.BindAddress = defaultPort
	}
	if _, err := strconv.ParseUint(sCfg.BindAddress, 10, 16); err == nil {
		sCfg.BindAddress = ":" + sCfg.BindAddress
	}
	host, port, err := net.SplitHostPort(sCfg.BindAddress)
	if err != nil {
		return fmt.Errorf("config: Server: BindAddress '%v' is invalid: %v", sCfg.BindAddress, err)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return fmt.Errorf("config: Server: BindAddress '%v' has an invalid port", sCfg.BindAddress)
	}
	if host != "" && net.ParseIP(host) == nil {
		return fmt.Errorf("config: Server: BindAddress '%v' is not an IP address", sCfg.BindAddress)
	}

	if sCfg.MetricsAddress != "" {
		if _, _, err := net.SplitHostPort(sCfg.MetricsAddress); err != nil {
			return fmt.Errorf("config: Server: MetricsAddress '%v' is invalid: %v", sCfg.MetricsAddress, err)
		}
	}

	if !filepath.IsAbs(sCfg.DataDir) {
		return fmt.Errorf("config: Server: DataDir '%v' is not an absolute path", sCfg.DataDir)
	}
	return nil
}

// Rekey is the in band rekeying configuration.
type Rekey struct {
	// Interval is how long a secret is used before it is replaced, in
	// milliseconds.
	Interval int

	// MaxBytes is how many bytes are encrypted under a secret before it
	// is replaced.
	MaxBytes uint64
}

func (rCfg *Rekey) applyDefaults() {
	if rCfg.Interval <= 0 {
		rCfg.Interval = defaultRekeyInterval
	}
	if rCfg.MaxBytes == 0 {
		rCfg.MaxBytes = defaultRekeyMaxBytes
	}
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl // Force uppercase.
	return nil
}

// Debug is the debug configuration.  None of these should be changed
// outside of testing.
type Debug struct {
	// IdleTimeout is how long the state for a peer is kept without any
	// traffic, in milliseconds.
	IdleTimeout int

	// RekeyRetryInterval is how often an unacknowledged rekey is resent,
	// in milliseconds.
	RekeyRetryInterval int

	// KCEGenerateInterval is the pause between two rounds of key cache
	// generation, in milliseconds.
	KCEGenerateInterval int

	// BroadcastInterval is how often beacons are sent, in milliseconds.
	BroadcastInterval int

	// ReplayFilterSize is the log2 of the handshake replay filter size in
	// bits.
	ReplayFilterSize int

	// GenerateOnly halts and cleans up the server right after long term
	// key generation.
	GenerateOnly bool
}

func (dCfg *Debug) applyDefaults() {
	if dCfg.IdleTimeout <= 0 {
		dCfg.IdleTimeout = defaultIdleTimeout
	}
	if dCfg.RekeyRetryInterval <= 0 {
		dCfg.RekeyRetryInterval = defaultRekeyRetryInterval
	}
	if dCfg.KCEGenerateInterval <= 0 {
		dCfg.KCEGenerateInterval = defaultGenerateInterval
	}
	if dCfg.BroadcastInterval <= 0 {
		dCfg.BroadcastInterval = defaultBroadcastInterval
	}
	if dCfg.ReplayFilterSize <= 0 {
		dCfg.ReplayFilterSize = defaultReplayFilterSize
	}
}

// Profiling is the continuous profiling configuration, used by builds
// with the pyroscope tag.
type Profiling struct {
	// ServerAddress is the pyroscope server URL, or empty to not profile.
	ServerAddress string

	// ApplicationName is the name profiles are filed under.
	ApplicationName string
}

func (pCfg *Profiling) applyDefaults() {
	if pCfg.ApplicationName == "" {
		pCfg.ApplicationName = defaultApplicationName
	}
}

// Config is the top level communicator server configuration.
type Config struct {
	Server    *Server
	Rekey     *Rekey
	Logging   *Logging
	Profiling *Profiling
	Debug     *Debug
}

// Milliseconds converts a millisecond configuration value to a duration.
func Milliseconds(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load
// variants instead.
func (cfg *Config) FixupAndValidate() error {
	// The Server section is mandatory, everything else is optional.
	if cfg.Server == nil {
		return errors.New("config: No Server block was present")
	}
	if cfg.Rekey == nil {
		cfg.Rekey = &Rekey{}
	}
	if cfg.Debug == nil {
		cfg.Debug = &Debug{}
	}
	if cfg.Profiling == nil {
		cfg.Profiling = &Profiling{}
	}
	if cfg.Logging == nil {
		l := defaultLogging
		cfg.Logging = &l
	}

	if err := cfg.Server.validate(); err != nil {
		return err
	}
	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	cfg.Rekey.applyDefaults()
	cfg.Profiling.applyDefaults()
	cfg.Debug.applyDefaults()
	return nil
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte, forceGenOnly bool) (*Config, error) {
	if b == nil {
		return nil, errors.New("No nil buffer as config file")
	}

	cfg := new(Config)
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	if forceGenOnly {
		cfg.Debug.GenerateOnly = true
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string, forceGenOnly bool) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b, forceGenOnly)
}
