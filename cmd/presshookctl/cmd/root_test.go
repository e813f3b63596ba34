package cmd

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

func fakeResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{
			name:   "success payload",
			status: 200,
			body:   `{"id":"abc","status":"pending"}`,
		},
		{
			name:    "error payload with message",
			status:  409,
			body:    `{"error":"record is not retryable in its current state"}`,
			wantErr: "server returned 409: record is not retryable in its current state",
		},
		{
			name:    "error without body",
			status:  500,
			body:    ``,
			wantErr: "server returned 500",
		},
		{
			name:    "unauthorized plain text",
			status:  401,
			body:    `Missing Authorization header`,
			wantErr: "server returned 401",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			}
			err := decodeResponse(fakeResponse(tt.status, tt.body), &out)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("decodeResponse() error = %v", err)
				}
				if out.ID != "abc" {
					t.Errorf("decoded id = %q, want abc", out.ID)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("decodeResponse() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"logs", "retry", "event", "health", "version"}
	for _, name := range want {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}
