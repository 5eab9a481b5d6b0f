package protocol

import "errors"

// Error kinds. Every error raised by the compiler, engines or orchestrator
// wraps exactly one of these.
var (
	// ErrConfig is raised before any hardware interaction and is recoverable.
	ErrConfig = errors.New("configuration error")
	// ErrUsage is raised synchronously at the call site and is recoverable.
	ErrUsage = errors.New("usage error")
	// ErrProtocol is fatal to the session; clear before reuse.
	ErrProtocol = errors.New("protocol error")
	// ErrResource reports a failing external collaborator.
	ErrResource = errors.New("resource error")
)

var (
	ErrSpikeInPast   = wrap(ErrUsage, "spike scheduled in the past")
	ErrSpikeTime     = wrap(ErrUsage, "spike time overflows the input clock")
	ErrSpikeValue    = wrap(ErrUsage, "spike value does not fit the charge field")
	ErrNotInput      = wrap(ErrUsage, "spike addressed to a non-input node")
	ErrRunRequired   = wrap(ErrUsage, "cannot send to a stream source without running")
	ErrNegativeRun   = wrap(ErrUsage, "run duration is negative")
	ErrNotLoaded     = wrap(ErrUsage, "no network loaded")
	ErrOutputIndex   = wrap(ErrUsage, "output index out of range")
	ErrDecodedOutput = wrap(ErrUsage, "fire queries are unsupported with decoded output")
	ErrDirty         = wrap(ErrUsage, "session is dirty, clear before running")

	ErrShortPacket     = wrap(ErrProtocol, "did not receive coherent response from target")
	ErrUnexpectedClear = wrap(ErrProtocol, "clear observed mid-run")
	ErrSyncMismatch    = wrap(ErrProtocol, "sync boundary mismatch")
	ErrBadPacket       = wrap(ErrProtocol, "malformed packet")
	ErrClockOverrun    = wrap(ErrProtocol, "output clock passed the run target")

	ErrProgram = wrap(ErrResource, "programming failed")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.kind.Error() + ": " + e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func wrap(kind error, msg string) error { return &kindError{kind: kind, msg: msg} }
