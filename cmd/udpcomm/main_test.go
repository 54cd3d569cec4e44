// SPDX-FileCopyrightText: Copyright (C) 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	require := require.New(t)

	cmd := newRootCommand()
	require.Equal("udpcomm", cmd.Use)
	require.NotNil(cmd.Flags().Lookup("config"))
	require.NotNil(cmd.Flags().ShorthandLookup("g"))
}

func TestGenerateOnly(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	f := filepath.Join(dir, "udpcomm.toml")
	body := fmt.Sprintf("[Server]\nBindAddress = \"127.0.0.1:0\"\nDataDir = %q\n[Logging]\nDisable = true\n", dataDir)
	require.NoError(os.WriteFile(f, []byte(body), 0600))

	cmd := newRootCommand()
	cmd.SetArgs([]string{"-f", f, "--generate-only"})
	require.NoError(cmd.Execute())
	require.FileExists(filepath.Join(dataDir, "identity.private.pem"))

	cmd = newRootCommand()
	cmd.SetArgs([]string{"-f", filepath.Join(dir, "missing.toml")})
	require.Error(cmd.Execute())
}
