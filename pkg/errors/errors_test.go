package errors

import (
	"fmt"
	"testing"
)

func TestCancelledDetection(t *testing.T) {
	err := Cancelled(fmt.Errorf("context canceled"))
	if !IsCancelled(err) {
		t.Error("Cancelled error should be detected")
	}

	wrapped := fmt.Errorf("pipeline aborted: %w", err)
	if !IsCancelled(wrapped) {
		t.Error("wrapped cancelled error should be detected")
	}

	if IsCancelled(fmt.Errorf("plain error")) {
		t.Error("plain error should not be cancelled")
	}
}

func TestAsAppErrorFallback(t *testing.T) {
	appErr := AsAppError(fmt.Errorf("raw"))
	if appErr.Code != CodeUnknown {
		t.Errorf("code = %q, want %q", appErr.Code, CodeUnknown)
	}

	orig := New(CodeOutlineEmpty, "no chapters")
	if got := AsAppError(fmt.Errorf("wrap: %w", orig)); got.Code != CodeOutlineEmpty {
		t.Errorf("code = %q, want %q", got.Code, CodeOutlineEmpty)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want int
	}{
		{CodeGenerationBusy, 409},
		{CodeCancelled, 499},
		{CodeNovelNotFound, 404},
		{CodeTaskTimeout, 504},
		{CodeUpstreamError, 502},
		{CodeRetryExhausted, 500},
	}
	for _, c := range cases {
		if got := New(c.code, "x").HTTPStatus; got != c.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", c.code, got, c.want)
		}
	}
}

func TestWithDetailCopiesError(t *testing.T) {
	first := ErrOutlineEmpty.WithDetail("raw_len=10")
	second := ErrOutlineEmpty.WithDetail("raw_len=38")

	if ErrOutlineEmpty.Detail != "" {
		t.Errorf("predefined error mutated: %q", ErrOutlineEmpty.Detail)
	}
	if first == second {
		t.Fatal("WithDetail should return distinct instances")
	}
	if first.Detail != "raw_len=10" || second.Detail != "raw_len=38" {
		t.Errorf("details = %q / %q", first.Detail, second.Detail)
	}
	if first.Code != CodeOutlineEmpty || first.HTTPStatus != 500 {
		t.Errorf("copy lost fields: code=%s status=%d", first.Code, first.HTTPStatus)
	}

	cause := fmt.Errorf("upstream gone")
	withCause := ErrStreamFailed.WithError(cause)
	if ErrStreamFailed.Err != nil {
		t.Error("predefined error gained a cause")
	}
	if withCause.Unwrap() != cause {
		t.Error("copy should carry the cause")
	}
}

func TestErrorStringAndUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(cause, CodeUpstreamError, "cover task submit failed")

	if err.Unwrap() != cause {
		t.Error("Unwrap should return the cause")
	}
	msg := err.Error()
	if msg == "" || msg == cause.Error() {
		t.Errorf("Error() = %q", msg)
	}
}
