package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrNoJobAvailable     = errors.New("no job available")
	ErrUnsupportedFeature = errors.New("unsupported feature")
)

// ErrorKind classifies generation failures so the chain executor can decide
// whether retrying the same backend is worthwhile.
type ErrorKind string

const (
	// ErrorKindNone marks a result without failure.
	ErrorKindNone ErrorKind = ""
	// ErrorKindConfig marks missing credentials or unusable backend
	// configuration. Not retryable.
	ErrorKindConfig ErrorKind = "config"
	// ErrorKindTransient marks network faults, timeouts and 5xx responses.
	// Retryable within the same backend.
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindExecution marks rejected workflows: unknown nodes, missing
	// model files, invalid parameters. Retrying the same input cannot help.
	ErrorKindExecution ErrorKind = "execution"
	// ErrorKindResource marks engine distress such as VRAM exhaustion or a
	// stuck queue. The local engine runs recovery before any retry.
	ErrorKindResource ErrorKind = "resource"
	// ErrorKindExhausted marks a chain execution where every backend failed.
	ErrorKindExhausted ErrorKind = "exhausted"
)

// Retryable reports whether another attempt against the same backend can
// plausibly succeed.
func (k ErrorKind) Retryable() bool {
	return k == ErrorKindTransient || k == ErrorKindResource
}
