package services_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"tryon/internal/jobs"
	"tryon/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalService, "fal", "submit", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"fal", "submit", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestFailureStatusMapping(t *testing.T) {
	transientErr := services.Wrap(services.ErrTransient, "fal", "status", "poll failed", errors.New("io"))
	if status := services.FailureStatus(transientErr); status != jobs.StatusFailed {
		t.Fatalf("expected failed for transient error, got %s", status)
	}
	canceled := fmt.Errorf("await: %w", context.Canceled)
	if status := services.FailureStatus(canceled); status != jobs.StatusCanceled {
		t.Fatalf("expected canceled for context cancellation, got %s", status)
	}
	if status := services.FailureStatus(nil); status != jobs.StatusFailed {
		t.Fatalf("expected failed for nil error, got %s", status)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{services.Wrap(services.ErrValidation, "tryon", "validate", "bad url", nil), false},
		{services.Wrap(services.ErrConfiguration, "fal", "run", "missing key", nil), false},
		{services.Wrap(services.ErrTimeout, "fal", "await", "Request timeout", nil), true},
		{services.Wrap(services.ErrExternalService, "fal", "run", "API Error: 500", nil), true},
	}
	for _, tc := range cases {
		if got := services.Retryable(tc.err); got != tc.want {
			t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[int]error{
		http.StatusOK:                  nil,
		http.StatusBadRequest:          services.Wrap(services.ErrValidation, "", "", "x", nil),
		http.StatusNotFound:            services.Wrap(services.ErrNotFound, "", "", "x", nil),
		http.StatusConflict:            fmt.Errorf("enqueue: %w", jobs.ErrInFlight),
		http.StatusGatewayTimeout:      services.Wrap(services.ErrTimeout, "", "", "x", nil),
		http.StatusServiceUnavailable:  services.Wrap(services.ErrExternalService, "", "", "x", nil),
		http.StatusInternalServerError: errors.New("unclassified"),
	}
	for want, err := range cases {
		if got := services.HTTPStatus(err); got != want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", err, got, want)
		}
	}
}
