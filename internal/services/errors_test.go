package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"photopipe/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "Raw To Intermediate", "convert", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"Raw To Intermediate", "convert", "failed"} {
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

func TestKindClassification(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{services.Wrap(services.ErrConfiguration, "catalog", "lookup", "bad step", nil), "configuration"},
		{services.Wrap(services.ErrPersistence, "store", "update", "", errors.New("locked")), "persistence"},
		{services.Wrap(services.ErrDispatch, "queue", "xadd", "", nil), "dispatch"},
		{fmt.Errorf("outer: %w", services.Wrap(services.ErrStepExecution, "", "", "", nil)), "step_execution"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("other"), "transient"},
	}
	for _, tc := range cases {
		if got := services.Kind(tc.err); got != tc.want {
			t.Fatalf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestIsFatal(t *testing.T) {
	if !services.IsFatal(services.Wrap(services.ErrConfiguration, "", "", "x", nil)) {
		t.Fatal("expected configuration error to be fatal")
	}
	if services.IsFatal(services.Wrap(services.ErrDispatch, "", "", "x", nil)) {
		t.Fatal("expected dispatch error to be retryable")
	}
}
