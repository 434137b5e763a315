//go:build linux || darwin

package netmon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeResolvFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func waitForSignal(t *testing.T, signals <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-signals:
	case <-time.After(2 * time.Second):
		t.Fatalf("no signal for %s", what)
	}
}

// drainSignals absorbs trailing events from a previous mutation so the
// next assertion starts from silence.
func drainSignals(signals <-chan struct{}) {
	for {
		select {
		case <-signals:
		case <-time.After(200 * time.Millisecond):
			return
		}
	}
}

func TestWatchConfigFiles_SignalsOnWrite(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "resolv.conf")
	writeResolvFile(t, conf, "nameserver 1.1.1.1\n")

	signals := make(chan struct{}, 64)
	sub, err := watchConfigFiles([]string{conf}, false, func() {
		select {
		case signals <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer sub.Cancel()

	writeResolvFile(t, conf, "nameserver 8.8.8.8\n")
	waitForSignal(t, signals, "config file write")
}

func TestWatchConfigFiles_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "resolv.conf")
	writeResolvFile(t, conf, "nameserver 1.1.1.1\n")

	signals := make(chan struct{}, 64)
	sub, err := watchConfigFiles([]string{conf}, false, func() {
		select {
		case signals <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer sub.Cancel()

	// A sibling file in the watched directory must not signal.
	writeResolvFile(t, filepath.Join(dir, "hosts"), "127.0.0.1 localhost\n")

	select {
	case <-signals:
		t.Fatal("signal for an unrelated file")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatchConfigFiles_SurvivesAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "resolv.conf")
	writeResolvFile(t, conf, "nameserver 1.1.1.1\n")

	signals := make(chan struct{}, 64)
	sub, err := watchConfigFiles([]string{conf}, false, func() {
		select {
		case signals <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer sub.Cancel()

	// Replace the file the way resolvconf does: write a sibling, then
	// rename it over the watched path.
	staged := filepath.Join(dir, "resolv.conf.tmp")
	writeResolvFile(t, staged, "nameserver 8.8.8.8\n")
	require.NoError(t, os.Rename(staged, conf))
	waitForSignal(t, signals, "atomic replace")

	// The watch must still be alive for changes to the replacement file.
	drainSignals(signals)
	writeResolvFile(t, conf, "nameserver 9.9.9.9\n")
	waitForSignal(t, signals, "write after atomic replace")
}

func TestWatchConfigFiles_MissingDirectoryFails(t *testing.T) {
	conf := filepath.Join(t.TempDir(), "no-such-dir", "resolv.conf")

	sub, err := watchConfigFiles([]string{conf}, false, func() {})
	require.Error(t, err)
	assert.Nil(t, sub)
}

func TestWatchConfigFiles_CancelStopsSignals(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "resolv.conf")
	writeResolvFile(t, conf, "nameserver 1.1.1.1\n")

	signals := make(chan struct{}, 64)
	sub, err := watchConfigFiles([]string{conf}, false, func() {
		select {
		case signals <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	sub.Cancel()
	drainSignals(signals)

	writeResolvFile(t, conf, "nameserver 8.8.8.8\n")

	select {
	case <-signals:
		t.Fatal("signal after cancel")
	case <-time.After(300 * time.Millisecond):
	}
}
