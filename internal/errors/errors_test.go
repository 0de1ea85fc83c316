package errors

import (
	stderrors "errors"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	e := New(CategoryQueue, SeverityWarning, "attendance queue is full")
	want := "queue (warning): attendance queue is full"
	if e.Error() != want {
		t.Fatalf("expected %q, got %q", want, e.Error())
	}

	cause := stderrors.New("disk gone")
	w := Wrap(cause, CategoryStorage, SeverityWarning, "queue persistence failed")
	if w.Unwrap() != cause {
		t.Fatalf("expected unwrap to return cause")
	}
	if !stderrors.Is(w, cause) {
		t.Fatalf("errors.Is should find the cause through Unwrap")
	}
}

func TestRetryableClassification(t *testing.T) {
	if !IsRetryable(RemoteUnavailable()) {
		t.Fatalf("remote unavailable must be retryable")
	}
	if IsRetryable(InvalidClock("2199-01-01 00:00:00")) {
		t.Fatalf("invalid clock is terminal, not retryable")
	}
	if IsRetryable(stderrors.New("plain")) {
		t.Fatalf("plain errors are not retryable")
	}
}

func TestCategoryHelpers(t *testing.T) {
	e := QueueFull(100, 100)
	if !IsCategory(e, CategoryQueue) {
		t.Fatalf("expected queue category")
	}
	if GetCategory(e) != CategoryQueue {
		t.Fatalf("GetCategory mismatch: %s", GetCategory(e))
	}
	if GetCategory(stderrors.New("plain")) != CategoryInternal {
		t.Fatalf("plain errors default to internal category")
	}
	if e.Context["capacity"] != 100 {
		t.Fatalf("expected capacity in context, got %v", e.Context)
	}
}

func TestWithContextAllocatesLazily(t *testing.T) {
	e := New(CategoryDevice, SeverityInfo, "msg")
	if e.Context != nil {
		t.Fatalf("context should be nil until first WithContext")
	}
	e.WithContext("k", "v")
	if e.Context["k"] != "v" {
		t.Fatalf("context not recorded")
	}
}
