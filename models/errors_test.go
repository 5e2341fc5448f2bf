package models

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusBadRequest, KindRemoteRejected},
		{http.StatusNotFound, KindRemoteRejected},
		{http.StatusUnprocessableEntity, KindRemoteRejected},
		{http.StatusRequestTimeout, KindRemoteTransient},
		{http.StatusTooManyRequests, KindRemoteTransient},
		{http.StatusInternalServerError, KindRemoteTransient},
		{http.StatusBadGateway, KindRemoteTransient},
		{http.StatusServiceUnavailable, KindRemoteTransient},
	}

	for _, tc := range cases {
		err := classifyStatus(tc.status, "push rejected")
		if err.Kind != tc.want {
			t.Errorf("status %d classified as %s, want %s", tc.status, err.Kind, tc.want)
		}
		if StatusOf(err) != tc.status {
			t.Errorf("status %d not recoverable from error, got %d", tc.status, StatusOf(err))
		}
	}
}

func TestClassifyTransport(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := classifyTransport(cause, "request failed")

	if err.Kind != KindRemoteTransient {
		t.Errorf("transport failure classified as %s, want %s", err.Kind, KindRemoteTransient)
	}
	if StatusOf(err) != 0 {
		t.Errorf("transport failure carries status %d, want 0", StatusOf(err))
	}
	if !errors.Is(err, cause) {
		t.Error("underlying cause lost in classification")
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(classifyStatus(http.StatusUnprocessableEntity, "bad payload")) {
		t.Error("a rejection must not auto-retry")
	}
	if !IsRetryable(classifyStatus(http.StatusServiceUnavailable, "down")) {
		t.Error("a 503 must auto-retry")
	}
	if !IsRetryable(networkUnavailable("no route")) {
		t.Error("offline must auto-retry")
	}
	if !IsRetryable(reconciliationConflict("edited mid-flight")) {
		t.Error("a conflict re-snapshot must auto-retry")
	}
	if IsRetryable(errors.New("unclassified")) {
		t.Error("unknown failures must not auto-retry")
	}
}

func TestValidationDistinctFromStorage(t *testing.T) {
	if !IsValidation(validationErr("par must be between 3 and 6")) {
		t.Error("validation constructor not detected")
	}
	if !IsValidation(fmt.Errorf("recording hole: %w", validationErr("hole_number must be between 1 and 18"))) {
		t.Error("wrapped validation failure not detected")
	}
	if IsValidation(storageFailure(errors.New("disk full"), "commit failed")) {
		t.Error("storage failure misread as caller input")
	}
	if IsValidation(errors.New("plain")) {
		t.Error("plain error misread as caller input")
	}
}

func TestErrorKindUnknownForPlainErrors(t *testing.T) {
	if got := ErrorKindOf(errors.New("plain")); got != KindUnknown {
		t.Errorf("plain error classified as %s", got)
	}
	if got := StatusOf(errors.New("plain")); got != 0 {
		t.Errorf("plain error carries status %d", got)
	}
}
