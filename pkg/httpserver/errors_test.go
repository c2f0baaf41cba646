package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"not found", NotFoundError("span", "abc"), http.StatusNotFound, "NOT_FOUND", "span not found: abc"},
		{"invalid argument", InvalidArgumentError("limit", "must be positive"), http.StatusBadRequest, "VALIDATION_ERROR", "invalid limit: must be positive"},
		{"failed precondition", FailedPreconditionError("history load in progress"), http.StatusConflict, "FAILED_PRECONDITION", "history load in progress"},
		{"unavailable", UnavailableError("tracely api"), http.StatusServiceUnavailable, "UNAVAILABLE", "tracely api is temporarily unavailable"},
		{"internal", InternalError(errors.New("boom")), http.StatusInternalServerError, "INTERNAL_ERROR", "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e *Error
			if !errors.As(tt.err, &e) {
				t.Fatalf("expected *Error, got %T", tt.err)
			}
			if e.Status != tt.wantStatus {
				t.Errorf("Status = %v, want %v", e.Status, tt.wantStatus)
			}
			if e.Code != tt.wantCode {
				t.Errorf("Code = %v, want %v", e.Code, tt.wantCode)
			}
			if e.Message != tt.wantMsg {
				t.Errorf("Message = %v, want %v", e.Message, tt.wantMsg)
			}
		})
	}
}

func TestStatusOf(t *testing.T) {
	wrapped := fmt.Errorf("failed to load span: %w", NotFoundError("span", "x"))

	if got := StatusOf(wrapped); got != http.StatusNotFound {
		t.Errorf("StatusOf(wrapped) = %v, want %v", got, http.StatusNotFound)
	}
	if !IsNotFound(wrapped) {
		t.Error("IsNotFound(wrapped) = false, want true")
	}
	if got := StatusOf(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("StatusOf(plain) = %v, want %v", got, http.StatusInternalServerError)
	}
}

func TestWriteError(t *testing.T) {
	t.Run("typed error", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, InvalidArgumentError("status", "unknown group"))

		if w.Code != http.StatusBadRequest {
			t.Errorf("Code = %v, want %v", w.Code, http.StatusBadRequest)
		}
		var env ErrorEnvelope
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if env.Error.Code != "VALIDATION_ERROR" {
			t.Errorf("Error.Code = %v, want %v", env.Error.Code, "VALIDATION_ERROR")
		}
		if len(env.Error.Details) != 1 || env.Error.Details[0]["field"] != "status" {
			t.Errorf("Error.Details = %v, want field=status", env.Error.Details)
		}
	})

	t.Run("untyped error hides message", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, errors.New("dial tcp: secret host"))

		if w.Code != http.StatusInternalServerError {
			t.Errorf("Code = %v, want %v", w.Code, http.StatusInternalServerError)
		}
		var env ErrorEnvelope
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if env.Error.Message != "internal server error" {
			t.Errorf("Error.Message = %v, want %v", env.Error.Message, "internal server error")
		}
	})
}

func TestWriteData(t *testing.T) {
	w := httptest.NewRecorder()
	WriteData(w, http.StatusOK, []string{"a", "b"}, nil)

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %v, want application/json", ct)
	}

	var env struct {
		Data []string       `json:"data"`
		Meta map[string]any `json:"meta"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(env.Data) != 2 {
		t.Errorf("len(Data) = %v, want %v", len(env.Data), 2)
	}
	if env.Meta == nil {
		t.Error("Meta = nil, want empty object")
	}
}
