// config_test.go - Server configuration tests.
// Copyright (C) 2017  Yawning Angel
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

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	require := require.New(t)

	_, err := Load(nil, false)
	require.EqualError(err, "No nil buffer as config file")

	basicConfig := `# A basic configuration example.
[Server]
BindAddress = "2086"
DataDir = "%s"
MetricsAddress = "127.0.0.1:6543"

[Rekey]
MaxBytes = 1048576

[Logging]
Level = "debug"
`
	cfg, err := Load([]byte(fmt.Sprintf(basicConfig, t.TempDir())), false)
	require.NoError(err, "Load() with basic config")
	require.Equal(":2086", cfg.Server.BindAddress)
	require.False(cfg.Server.DisableBroadcasts)
	require.Equal("DEBUG", cfg.Logging.Level)
	require.Equal(uint64(1048576), cfg.Rekey.MaxBytes)
	require.Equal(4*time.Hour, Milliseconds(cfg.Rekey.Interval))
	require.Equal(5*time.Minute, Milliseconds(cfg.Debug.IdleTimeout))
	require.Equal(5*time.Second, Milliseconds(cfg.Debug.RekeyRetryInterval))
	require.Equal(10*time.Millisecond, Milliseconds(cfg.Debug.KCEGenerateInterval))
	require.Equal(30*time.Second, Milliseconds(cfg.Debug.BroadcastInterval))
	require.Equal(23, cfg.Debug.ReplayFilterSize)
	require.False(cfg.Debug.GenerateOnly)
	require.Empty(cfg.Profiling.ServerAddress)
	require.Equal("udpcomm", cfg.Profiling.ApplicationName)
}

func TestDefaults(t *testing.T) {
	require := require.New(t)

	f := filepath.Join(t.TempDir(), "udpcomm.toml")
	require.NoError(os.WriteFile(f, []byte("[Server]\nDataDir = \"/var/lib/udpcomm\"\n"), 0600))

	cfg, err := LoadFile(f, true)
	require.NoError(err)
	require.Equal(":2086", cfg.Server.BindAddress)
	require.Equal(defaultLogLevel, cfg.Logging.Level)
	require.True(cfg.Debug.GenerateOnly)

	// The defaults are not shared between configurations.
	cfg.Logging.Level = "ERROR"
	cfg, err = LoadFile(f, false)
	require.NoError(err)
	require.Equal(defaultLogLevel, cfg.Logging.Level)
}

func TestInvalidConfig(t *testing.T) {
	for name, body := range map[string]string{
		"no server":    "[Logging]\nLevel = \"DEBUG\"\n",
		"relative dir": "[Server]\nDataDir = \"udpcomm\"\n",
		"bad port":     "[Server]\nBindAddress = \"127.0.0.1:70000\"\nDataDir = \"/tmp\"\n",
		"hostname":     "[Server]\nBindAddress = \"localhost:2086\"\nDataDir = \"/tmp\"\n",
		"bad metrics":  "[Server]\nDataDir = \"/tmp\"\nMetricsAddress = \"6543\"\n",
		"bad level":    "[Server]\nDataDir = \"/tmp\"\n[Logging]\nLevel = \"LOUD\"\n",
		"bad toml":     "[Server\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(body), false)
			require.Error(t, err)
		})
	}
}
