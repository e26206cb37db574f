package exiftool

import "time"

// State tracks the lifecycle of the persistent exiftool process.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Fields is the raw field/value mapping exiftool reports for one file.
type Fields map[string]any

type adapterOptions struct {
	binaryPath     string
	timeout        time.Duration
	restartRetries int
}

type Option func(*adapterOptions)

func WithBinaryPath(path string) Option {
	return func(o *adapterOptions) {
		o.binaryPath = path
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(o *adapterOptions) {
		o.timeout = timeout
	}
}

func WithRestartRetries(n int) Option {
	return func(o *adapterOptions) {
		o.restartRetries = n
	}
}
