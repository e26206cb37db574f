package exiftool

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/oncutf/oncutf/internal/errs"
	"github.com/oncutf/oncutf/pkg/file"
	"github.com/oncutf/oncutf/pkg/log"
)

// Adapter wraps a long-lived exiftool process in stay-open mode. Starting
// exiftool costs hundreds of milliseconds, so one process is kept alive and
// request/response exchanges are serialized through it. Extended extraction
// falls back to a one-shot invocation because the stay-open stream does not
// support the flags extended fields need.
type Adapter struct {
	binaryPath     string
	timeout        time.Duration
	restartRetries int

	mu       sync.Mutex
	state    State
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   *bufio.Reader
	waitDone chan struct{}
	closed   bool
}

func NewAdapter(opts ...Option) *Adapter {
	options := adapterOptions{
		binaryPath:     "exiftool",
		timeout:        10 * time.Second,
		restartRetries: 2,
	}
	for _, opt := range opts {
		opt(&options)
	}

	ret := &Adapter{
		binaryPath:     options.binaryPath,
		timeout:        options.timeout,
		restartRetries: options.restartRetries,
		state:          StateStopped,
	}
	registerAdapter(ret)
	return ret
}

func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// ExtractOne extracts metadata for a single file.
func (a *Adapter) ExtractOne(ctx context.Context, path string, extended bool) (Fields, error) {
	results, err := a.ExtractBatch(ctx, []string{path}, extended)
	if err != nil {
		return nil, err
	}
	fields, ok := results[file.NormalizePath(path)]
	if !ok {
		return nil, errs.New(errs.ErrExtraction, "no metadata returned").
			WithContext("path", path)
	}
	return fields, nil
}

// ExtractBatch extracts metadata for many files in one exchange. Files the
// tool could not read are absent from the result; callers treat missing
// entries as per-file failures. The returned error means the whole exchange
// failed and every file should be treated as failed.
func (a *Adapter) ExtractBatch(ctx context.Context, paths []string, extended bool) (map[string]Fields, error) {
	if len(paths) == 0 {
		return map[string]Fields{}, nil
	}
	if extended {
		return a.extractOneShot(ctx, paths)
	}
	return a.extractPersistent(ctx, paths)
}

func (a *Adapter) extractPersistent(ctx context.Context, paths []string) (map[string]Fields, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, errs.New(errs.ErrExtraction, "adapter is closed")
	}
	if err := a.ensureReadyLocked(); err != nil {
		return nil, err
	}

	if _, err := a.stdin.Write(requestLines(paths)); err != nil {
		a.failLocked()
		return nil, errs.Wrap(err, errs.ErrExtraction, "write request to exiftool")
	}

	type readResult struct {
		payload []byte
		err     error
	}
	resultCh := make(chan readResult, 1)
	stdout := a.stdout
	go func() {
		payload, err := readUntilReady(stdout)
		resultCh <- readResult{payload: payload, err: err}
	}()

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		if res.err != nil {
			a.failLocked()
			return nil, errs.Wrap(res.err, errs.ErrExtraction, "read exiftool response")
		}
		parsed, err := parsePayload(res.payload)
		if err != nil {
			return nil, errs.Wrap(err, errs.ErrExtraction, "parse exiftool response")
		}
		return parsed, nil
	case <-timer.C:
		a.failLocked()
		return nil, errs.New(errs.ErrExtraction, "extraction timed out").
			WithContext("timeout", a.timeout)
	case <-ctx.Done():
		a.failLocked()
		return nil, errs.Wrap(ctx.Err(), errs.ErrCancelled, "extraction cancelled")
	}
}

func (a *Adapter) extractOneShot(ctx context.Context, paths []string) (map[string]Fields, error) {
	cmdPath, err := exec.LookPath(a.binaryPath)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrExtraction, "exiftool binary not found")
	}

	runCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, cmdPath, oneShotArgs(paths)...)
	output, err := cmd.Output()
	if err != nil {
		// exiftool exits non-zero when any file fails; partial output is
		// still a valid JSON array for the files that succeeded.
		if len(output) == 0 {
			return nil, errs.Wrap(err, errs.ErrExtraction, "run exiftool")
		}
	}
	return parsePayload(output)
}

// ensureReadyLocked performs the lazy health check: a process that exited
// since the last call is detected here and restarted with bounded retries.
func (a *Adapter) ensureReadyLocked() error {
	if a.state == StateReady && a.aliveLocked() {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= a.restartRetries; attempt++ {
		if attempt > 0 {
			log.Warn("Restarting exiftool process (attempt %d/%d)", attempt, a.restartRetries)
		}
		if lastErr = a.startLocked(); lastErr == nil {
			return nil
		}
	}
	a.state = StateFailed
	return errs.Wrap(lastErr, errs.ErrExtraction, "start exiftool process")
}

func (a *Adapter) aliveLocked() bool {
	if a.cmd == nil || a.waitDone == nil {
		return false
	}
	select {
	case <-a.waitDone:
		return false
	default:
		return true
	}
}

func (a *Adapter) startLocked() error {
	a.killLocked()
	a.state = StateStarting

	cmdPath, err := exec.LookPath(a.binaryPath)
	if err != nil {
		a.state = StateFailed
		return err
	}

	cmd := exec.Command(cmdPath, stayOpenArgs()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		a.state = StateFailed
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		a.state = StateFailed
		return err
	}
	if err := cmd.Start(); err != nil {
		a.state = StateFailed
		return err
	}

	waitDone := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(waitDone)
	}()

	a.cmd = cmd
	a.stdin = stdin
	a.stdout = bufio.NewReader(stdout)
	a.waitDone = waitDone
	a.state = StateReady
	log.Debug("Started exiftool process pid=%d", cmd.Process.Pid)
	return nil
}

func (a *Adapter) failLocked() {
	a.killLocked()
	a.state = StateFailed
}

func (a *Adapter) killLocked() {
	if a.cmd != nil && a.cmd.Process != nil && a.aliveLocked() {
		_ = a.cmd.Process.Kill()
		<-a.waitDone
	}
	a.cmd = nil
	a.stdin = nil
	a.stdout = nil
	a.waitDone = nil
}

// Close shuts down the persistent process. Safe to call more than once.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	unregisterAdapter(a)

	if a.stdin != nil && a.aliveLocked() {
		// Polite shutdown; exiftool exits once it reads the False token.
		_, _ = io.WriteString(a.stdin, "-stay_open\nFalse\n")
		_ = a.stdin.Close()

		select {
		case <-a.waitDone:
		case <-time.After(2 * time.Second):
			log.Warn("exiftool did not exit after stay_open False, killing")
			a.killLocked()
		}
	}
	a.killLocked()
	a.state = StateStopped
	return nil
}

var (
	registryMu sync.Mutex
	registry   = make(map[*Adapter]struct{})
)

func registerAdapter(a *Adapter) {
	registryMu.Lock()
	registry[a] = struct{}{}
	registryMu.Unlock()
}

func unregisterAdapter(a *Adapter) {
	registryMu.Lock()
	delete(registry, a)
	registryMu.Unlock()
}

// ForceCleanupAll terminates every live adapter process. Called at process
// exit as a safety net against exiftool leaks regardless of adapter state.
func ForceCleanupAll() {
	registryMu.Lock()
	adapters := make([]*Adapter, 0, len(registry))
	for a := range registry {
		adapters = append(adapters, a)
	}
	registryMu.Unlock()

	for _, a := range adapters {
		if err := a.Close(); err != nil {
			log.Error("Failed to close exiftool adapter: %v", err)
		}
	}
}
