// https://github.com/lulle2007200/emummc
//
// Copyright (c) The emummc Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package fatal implements the error taxonomy and reboot-to-fatal-error
// path. A fatal outcome is never recoverable in-process: the
// original writes a context block with a magic and error code to a
// well-known address, tries to dispatch it via a host IPC port for up to
// 1s, and falls back to copying a small handler payload into on-chip RAM
// and resetting to it. Those actions are real hardware/IPC operations (out
// of scope per), so they are modeled behind the Sink interface;
// Abort itself is noreturn by convention (it panics after invoking the
// sink, so even a misbehaving Sink cannot return control to the caller).
package fatal

import (
	"time"

	log "github.com/dsoprea/go-logging"
)

// Reason enumerates the fatal error taxonomy, in the order the
// original's FatalReason enum lists them, extended with two reasons
// that the original's enum predates (mount underflow reuses
// Fatal_FatfsMount in the original; here it is split out for clarity).
type Reason int

const (
	ReasonInitMMC Reason = iota
	ReasonInitSD
	ReasonInvalidAccessor
	ReasonReadNoAccessor
	ReasonWriteNoAccessor
	ReasonOpenAccessor
	ReasonCloseAccessor
	ReasonFatfsMount
	ReasonFatfsFileOpen
	ReasonFatfsMemExhaustion
	ReasonInvalidEnum
	ReasonInvalidPartition
	ReasonPartitionSwitchFail
	ReasonOOB
	ReasonMountUnderflow
)

func (r Reason) String() string {
	switch r {
	case ReasonInitMMC:
		return "InitMMC"
	case ReasonInitSD:
		return "InitSD"
	case ReasonInvalidAccessor:
		return "InvalidAccessor"
	case ReasonReadNoAccessor:
		return "ReadNoAccessor"
	case ReasonWriteNoAccessor:
		return "WriteNoAccessor"
	case ReasonOpenAccessor:
		return "OpenAccessor"
	case ReasonCloseAccessor:
		return "CloseAccessor"
	case ReasonFatfsMount:
		return "FatfsMount"
	case ReasonFatfsFileOpen:
		return "FatfsFileOpen"
	case ReasonFatfsMemExhaustion:
		return "FatfsMemExhaustion"
	case ReasonInvalidEnum:
		return "InvalidEnum"
	case ReasonInvalidPartition:
		return "InvalidPartition"
	case ReasonPartitionSwitchFail:
		return "PartitionSwitchFail"
	case ReasonOOB:
		return "OOB"
	case ReasonMountUnderflow:
		return "MountUnderflow"
	default:
		return "Unknown"
	}
}

// ContextMagic is the reboot-to-fatal-error context block magic ("AFE2" in
// the original).
const ContextMagic uint32 = 0x32454641

// IPCDispatchTimeout bounds the attempt to hand the fatal context to the
// host over IPC before falling back to the on-chip payload.
const IPCDispatchTimeout = 1 * time.Second

// Context is the reboot-to-fatal-error context block, reduced to
// the fields the core itself populates; the rest of the original's
// register/stack dump is platform state this module does not have access
// to and is left to the real fatal handler to fill in.
type Context struct {
	Magic     uint32
	ErrorCode uint32
}

// Sink performs the platform-specific fatal path: writing the Context
// somewhere well-known, attempting IPC dispatch, and falling back to an
// on-chip reset payload. A real implementation lives outside this module's
// scope; DefaultSink only logs, and Abort's panic then ends the call,
// which is the correct behavior for hosted tests and tooling.
type Sink interface {
	Abort(reason Reason, cause error)
}

type logSink struct{}

func (logSink) Abort(reason Reason, cause error) {
	log.Errorf("fatal abort: %s: %v", reason, cause)
}

// DefaultSink logs the fatal reason and cause. It does not terminate the
// process itself; Abort's panic does that uniformly regardless of Sink.
var DefaultSink Sink = logSink{}

// Error wraps a Reason so a fatal condition can still be threaded through
// normal Go error returns up to the point where Abort is called, letting
// tests observe which reason would have fired without actually aborting
// the process.
type Error struct {
	Reason Reason
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Reason.String() + ": " + e.Cause.Error()
	}
	return e.Reason.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// New returns a *Error for reason/cause, for callers that want to surface
// a fatal condition as a normal error (e.g. in tests) before the top-level
// caller decides to Abort.
func New(reason Reason, cause error) *Error {
	return &Error{Reason: reason, Cause: cause}
}

// Abort performs the unrecoverable fatal path: it invokes sink,
// then panics, so the call never returns regardless of what sink does. Use
// a *Error via New to surface the reason up the call stack first, and only
// call Abort once at the boundary that owns process lifetime.
func Abort(sink Sink, reason Reason, cause error) {
	if sink == nil {
		sink = DefaultSink
	}
	sink.Abort(reason, cause)
	panic(New(reason, cause))
}
