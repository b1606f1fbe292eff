package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClientf(t *testing.T) {
	err := Clientf("%s files are not permitted", ".exe")
	if err.Message != ".exe files are not permitted" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Status != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", err.Status)
	}
}

func TestClientStatusf(t *testing.T) {
	err := ClientStatusf(http.StatusConflict, "busy")
	if err.Status != http.StatusConflict {
		t.Errorf("Status = %d, want 409", err.Status)
	}
}

func TestAsClientThroughWrap(t *testing.T) {
	inner := Clientf("bad input")
	wrapped := fmt.Errorf("handling request: %w", inner)

	ce, ok := AsClient(wrapped)
	if !ok {
		t.Fatal("AsClient should find the wrapped error")
	}
	if ce != inner {
		t.Error("AsClient should return the original value")
	}

	if _, ok := AsClient(errors.New("plain")); ok {
		t.Error("AsClient should reject unrelated errors")
	}
}

func TestServerError(t *testing.T) {
	cause := errors.New("disk full")
	err := Serverf(cause, "failed to stage upload")

	if got := err.Error(); got != "failed to stage upload: disk full" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("ServerError should unwrap to its cause")
	}

	se, ok := AsServer(fmt.Errorf("outer: %w", err))
	if !ok || se != err {
		t.Error("AsServer should find the wrapped error")
	}
	if se.Quiet {
		t.Error("Serverf errors are not quiet by default")
	}
}

func TestServerErrorWithoutCause(t *testing.T) {
	err := &ServerError{Message: "identifier space exhausted", Quiet: true}
	if got := err.Error(); got != "identifier space exhausted" {
		t.Errorf("Error() = %q", got)
	}
	if err.Unwrap() != nil {
		t.Error("Unwrap should be nil without a cause")
	}
}
