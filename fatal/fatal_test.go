// https://github.com/lulle2007200/emummc
//
// Copyright (c) The emummc Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package fatal

import (
	"errors"
	"testing"
)

type recordingSink struct {
	reason Reason
	cause  error
	called bool
}

func (s *recordingSink) Abort(reason Reason, cause error) {
	s.reason = reason
	s.cause = cause
	s.called = true
}

func TestAbortInvokesSinkThenPanics(t *testing.T) {
	sink := &recordingSink{}
	cause := errors.New("boom")

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Abort did not panic")
		}
		fatalErr, ok := r.(*Error)
		if !ok {
			t.Fatalf("recovered value is %T, want *Error", r)
		}
		if fatalErr.Reason != ReasonOOB || fatalErr.Cause != cause {
			t.Fatalf("recovered error = %+v, want Reason=%v Cause=%v", fatalErr, ReasonOOB, cause)
		}
		if !sink.called {
			t.Fatal("sink.Abort was not called before panic")
		}
	}()

	Abort(sink, ReasonOOB, cause)

	t.Fatal("unreachable: Abort must not return")
}

func TestAbortFallsBackToDefaultSink(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Abort did not panic")
		}
	}()
	Abort(nil, ReasonInitMMC, errors.New("x"))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := New(ReasonInvalidEnum, cause)

	if !errors.Is(err, cause) {
		t.Fatal("errors.Is did not find the wrapped cause")
	}
	if err.Error() == "" {
		t.Fatal("Error() returned empty string")
	}
}
