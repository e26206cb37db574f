package exiftool

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncutf/oncutf/internal/errs"
	"github.com/oncutf/oncutf/pkg/file"
)

// stubScript emulates exiftool closely enough for adapter tests: stay-open
// mode answers each -execute block with a JSON array and the {ready}
// sentinel, one-shot mode prints a JSON array for its path arguments.
const stubScript = `#!/bin/sh
if [ "$1" = "-stay_open" ]; then
  if [ -n "$STUB_MARKER" ]; then echo started >> "$STUB_MARKER"; fi
  paths=""
  while IFS= read -r line; do
    case "$line" in
      -execute)
        out="["
        sep=""
        for p in $paths; do
          out="$out$sep{\"SourceFile\":\"$p\",\"Model\":\"Stub\"}"
          sep=","
        done
        printf '%s]\n{ready}\n' "$out"
        paths=""
        ;;
      -stay_open)
        IFS= read -r v
        if [ "$v" = "False" ]; then exit 0; fi
        ;;
      -j|-n) ;;
      *) paths="$paths $line" ;;
    esac
  done
else
  out="["
  sep=""
  skip=0
  for arg in "$@"; do
    if [ "$skip" = 1 ]; then skip=0; continue; fi
    case "$arg" in
      -api) skip=1 ;;
      -*) ;;
      *) out="$out$sep{\"SourceFile\":\"$arg\",\"Model\":\"StubExtended\"}"; sep="," ;;
    esac
  done
  printf '%s]\n' "$out"
fi
`

const hangingStubScript = `#!/bin/sh
while IFS= read -r line; do
  case "$line" in
    -execute) sleep 30 ;;
  esac
done
`

func writeStub(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub scripts need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "exiftool-stub")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestAdapter_ExtractBatch_PersistentExchange(t *testing.T) {
	adapter := NewAdapter(WithBinaryPath(writeStub(t, stubScript)))
	defer adapter.Close()

	got, err := adapter.ExtractBatch(context.Background(), []string{"/photos/a.jpg", "/photos/b.jpg"}, false)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Stub", got[file.NormalizePath("/photos/a.jpg")]["Model"])
	assert.Equal(t, StateReady, adapter.State())
}

func TestAdapter_ExtractBatch_ReusesProcess(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "starts")
	t.Setenv("STUB_MARKER", marker)

	adapter := NewAdapter(WithBinaryPath(writeStub(t, stubScript)))
	defer adapter.Close()

	_, err := adapter.ExtractBatch(context.Background(), []string{"/photos/a.jpg"}, false)
	require.NoError(t, err)
	_, err = adapter.ExtractBatch(context.Background(), []string{"/photos/b.jpg"}, false)
	require.NoError(t, err)

	content, readErr := os.ReadFile(marker)
	require.NoError(t, readErr)
	assert.Equal(t, 1, strings.Count(string(content), "started"))
}

func TestAdapter_ExtractOne(t *testing.T) {
	adapter := NewAdapter(WithBinaryPath(writeStub(t, stubScript)))
	defer adapter.Close()

	fields, err := adapter.ExtractOne(context.Background(), "/photos/a.jpg", false)

	require.NoError(t, err)
	assert.Equal(t, "Stub", fields["Model"])
}

func TestAdapter_ExtractBatch_ExtendedUsesOneShot(t *testing.T) {
	adapter := NewAdapter(WithBinaryPath(writeStub(t, stubScript)))
	defer adapter.Close()

	got, err := adapter.ExtractBatch(context.Background(), []string{"/photos/a.jpg"}, true)

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "StubExtended", got[file.NormalizePath("/photos/a.jpg")]["Model"])
	// One-shot extraction never touches the persistent process.
	assert.Equal(t, StateStopped, adapter.State())
}

func TestAdapter_ExtractBatch_EmptyInput(t *testing.T) {
	adapter := NewAdapter(WithBinaryPath("does-not-matter"))
	defer adapter.Close()

	got, err := adapter.ExtractBatch(context.Background(), nil, false)

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAdapter_ExtractBatch_BinaryNotFound(t *testing.T) {
	adapter := NewAdapter(WithBinaryPath("oncutf-no-such-binary"), WithRestartRetries(1))
	defer adapter.Close()

	_, err := adapter.ExtractBatch(context.Background(), []string{"/photos/a.jpg"}, false)

	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrExtraction))
	assert.Equal(t, StateFailed, adapter.State())
}

func TestAdapter_ExtractBatch_Timeout(t *testing.T) {
	adapter := NewAdapter(
		WithBinaryPath(writeStub(t, hangingStubScript)),
		WithTimeout(200*time.Millisecond),
	)
	defer adapter.Close()

	_, err := adapter.ExtractBatch(context.Background(), []string{"/photos/a.jpg"}, false)

	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrExtraction))
	assert.Equal(t, StateFailed, adapter.State())
}

func TestAdapter_ExtractBatch_Cancelled(t *testing.T) {
	adapter := NewAdapter(
		WithBinaryPath(writeStub(t, hangingStubScript)),
		WithTimeout(time.Minute),
	)
	defer adapter.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := adapter.ExtractBatch(ctx, []string{"/photos/a.jpg"}, false)

	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrCancelled))
}

func TestAdapter_RecoversAfterProcessDeath(t *testing.T) {
	adapter := NewAdapter(WithBinaryPath(writeStub(t, stubScript)))
	defer adapter.Close()

	_, err := adapter.ExtractBatch(context.Background(), []string{"/photos/a.jpg"}, false)
	require.NoError(t, err)

	// Kill the process behind the adapter's back; the next call notices
	// through the health check and restarts.
	adapter.mu.Lock()
	require.NotNil(t, adapter.cmd)
	require.NoError(t, adapter.cmd.Process.Kill())
	waitDone := adapter.waitDone
	adapter.mu.Unlock()
	<-waitDone

	got, err := adapter.ExtractBatch(context.Background(), []string{"/photos/b.jpg"}, false)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, StateReady, adapter.State())
}

func TestAdapter_Close_Idempotent(t *testing.T) {
	adapter := NewAdapter(WithBinaryPath(writeStub(t, stubScript)))

	_, err := adapter.ExtractBatch(context.Background(), []string{"/photos/a.jpg"}, false)
	require.NoError(t, err)

	require.NoError(t, adapter.Close())
	require.NoError(t, adapter.Close())
	assert.Equal(t, StateStopped, adapter.State())

	_, err = adapter.ExtractBatch(context.Background(), []string{"/photos/a.jpg"}, false)
	require.Error(t, err)
}

func TestForceCleanupAll_ClosesLiveAdapters(t *testing.T) {
	adapter := NewAdapter(WithBinaryPath(writeStub(t, stubScript)))

	_, err := adapter.ExtractBatch(context.Background(), []string{"/photos/a.jpg"}, false)
	require.NoError(t, err)

	ForceCleanupAll()

	assert.Equal(t, StateStopped, adapter.State())
}
