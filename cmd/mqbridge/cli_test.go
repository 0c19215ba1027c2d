package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hookdeck/mqbridge/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mqbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCommand()
	var out bytes.Buffer
	cmd.Writer = &out
	err := cmd.Run(context.Background(), append([]string{"mqbridge"}, args...))
	return out.String(), err
}

func TestCommand_Version(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version.Version(), strings.TrimSpace(out))
}

func TestCommand_Validate(t *testing.T) {
	path := writeConfig(t, `
bridges:
  - name: orders
    left:
      inmemory:
        bind: true
        name: orders-in
    right:
      inmemory:
        bind: true
        name: orders-out
`)

	out, err := runCommand(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration OK: 1 bridge(s)")
}

func TestCommand_ValidateRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `
bridges:
  - name: orders
    left:
      inmemory:
        bind: true
        name: orders-in
`)

	_, err := runCommand(t, "validate", "--config", path)
	assert.Error(t, err)
}

func TestCommand_ValidateInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
bridges:
  - name: orders
    left:
      tcp:
        address: 127.0.0.1:5555
    right:
      tcp:
        bind: true
        address: 127.0.0.1:5556
`)

	_, err := runCommand(t, "validate", "--config", path, "--log-level", "chatty")
	assert.Error(t, err)
}
