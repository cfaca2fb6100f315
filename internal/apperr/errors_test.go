package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("avatar_id is required"), http.StatusBadRequest},
		{"wrapped validation", fmt.Errorf("speak: %w", Validation("text is required")), http.StatusBadRequest},
		{"upstream", &UpstreamError{Op: "start", Status: 500}, http.StatusBadGateway},
		{"transport", &TransportError{Op: "start", Err: errors.New("reset")}, http.StatusBadGateway},
		{"connect timeout", &ConnectTimeout{SessionID: "s1", After: time.Second}, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, got)
			}
		})
	}
}

func TestUpstreamError_Detail(t *testing.T) {
	err := &UpstreamError{Op: "stop", Status: 500, Body: []byte(`{"message":"boom"}`)}

	var detail struct {
		Status int            `json:"status"`
		Data   map[string]any `json:"data"`
	}
	if e := json.Unmarshal([]byte(err.Detail()), &detail); e != nil {
		t.Fatalf("Expected JSON detail, got %v", e)
	}
	if detail.Status != 500 {
		t.Errorf("Expected status 500, got %d", detail.Status)
	}
	if detail.Data["message"] != "boom" {
		t.Errorf("Expected data.message 'boom', got %v", detail.Data["message"])
	}
}

func TestUpstreamError_DetailNonJSON(t *testing.T) {
	err := &UpstreamError{Op: "stop", Status: 502, Body: []byte("bad gateway")}
	want := `{"status":502,"data":"bad gateway"}`
	if got := err.Detail(); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestIsTransport(t *testing.T) {
	transport := &TransportError{Op: "token", Err: errors.New("connection reset")}
	if !IsTransport(transport) {
		t.Error("Expected transport error to be retryable")
	}
	if IsTransport(&UpstreamError{Op: "token", Status: 0, Err: transport}) {
		t.Error("Expected surfaced upstream error to not be retryable")
	}
	if IsTransport(&UpstreamError{Op: "token", Status: 503}) {
		t.Error("Expected status error to not be retryable")
	}
}

func TestUpstreamError_UnwrapsTransport(t *testing.T) {
	transport := &TransportError{Op: "token", Err: errors.New("timeout")}
	err := fmt.Errorf("create session: %w", &UpstreamError{Op: "token", Err: transport})

	var got *TransportError
	if !errors.As(err, &got) {
		t.Fatal("Expected to find TransportError in chain")
	}
	if Detail(err) == "" {
		t.Error("Expected detail for upstream error")
	}
}

func TestMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{Validation("avatar_id is required"), "avatar_id is required"},
		{&UpstreamError{Op: "stop session", Status: 500, Message: "boom"}, "boom"},
		{&UpstreamError{Op: "stop session", Status: 500}, "stop session: status 500: "},
		{errors.New("plain"), "plain"},
	}
	for _, tt := range tests {
		if got := Message(tt.err); got != tt.want {
			t.Errorf("Message(%v): expected %q, got %q", tt.err, tt.want, got)
		}
	}
}
