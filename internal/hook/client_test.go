package hook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   OutcomeClass
	}{
		{"200 ok", 200, nil, Success},
		{"201 created", 201, nil, Success},
		{"299 edge", 299, nil, Success},
		{"404 not found", 404, nil, Permanent},
		{"400 bad request", 400, nil, Permanent},
		{"401 unauthorized", 401, nil, Permanent},
		{"408 request timeout", 408, nil, Retryable},
		{"429 too many requests", 429, nil, Retryable},
		{"500 server error", 500, nil, Retryable},
		{"503 unavailable", 503, nil, Retryable},
		{"network error", 0, context.DeadlineExceeded, Retryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.status, tt.err)
			if got.Class != tt.want {
				t.Errorf("Classify(%d, %v).Class = %v, want %v", tt.status, tt.err, got.Class, tt.want)
			}
			if tt.err == nil && got.StatusCode != tt.status {
				t.Errorf("Classify(%d).StatusCode = %d", tt.status, got.StatusCode)
			}
		})
	}
}

func TestClientDeliverSendsSecretAndBody(t *testing.T) {
	var gotSecret string
	var gotBody Payload
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		gotSecret = r.Header.Get("X-Revalidate-Secret")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"revalidated":true}`))
	}))
	defer srv.Close()

	c := NewClient("top-secret", "X-Revalidate-Secret", 5*time.Second)
	out := c.Deliver(context.Background(), srv.URL, Payload{Slug: "/blog/my-post", Action: "publish"})

	if out.Class != Success || out.StatusCode != 200 {
		t.Fatalf("Deliver() = %+v, want Success/200", out)
	}
	if gotSecret != "top-secret" {
		t.Errorf("secret header = %q", gotSecret)
	}
	if gotBody.Slug != "/blog/my-post" || gotBody.Action != "publish" {
		t.Errorf("body = %+v", gotBody)
	}
	if calls != 1 {
		t.Errorf("exactly one network call expected, got %d", calls)
	}
}

func TestClientDeliverClassifiesResponses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   OutcomeClass
	}{
		{"success", 200, Success},
		{"retryable 503", 503, Retryable},
		{"retryable 429", 429, Retryable},
		{"permanent 404", 404, Permanent},
		{"permanent 401", 401, Permanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewClient("s", "X-Revalidate-Secret", 5*time.Second)
			out := c.Deliver(context.Background(), srv.URL, Payload{Slug: "/p", Action: "update"})
			if out.Class != tt.want {
				t.Errorf("Deliver() class = %v, want %v", out.Class, tt.want)
			}
			if out.StatusCode != tt.status {
				t.Errorf("Deliver() status = %d, want %d", out.StatusCode, tt.status)
			}
		})
	}
}

func TestClientDeliverNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close() // refuse connections

	c := NewClient("s", "X-Revalidate-Secret", time.Second)
	out := c.Deliver(context.Background(), srv.URL, Payload{Slug: "/p", Action: "publish"})

	if out.Class != Retryable {
		t.Errorf("network error class = %v, want Retryable", out.Class)
	}
	if out.Err == nil {
		t.Error("network error should carry Err")
	}
	if out.StatusCode != 0 {
		t.Errorf("unreached target should report status 0, got %d", out.StatusCode)
	}
}

func TestClientDeliverTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	defer func() { close(block); srv.Close() }()

	c := NewClient("s", "X-Revalidate-Secret", 50*time.Millisecond)
	out := c.Deliver(context.Background(), srv.URL, Payload{Slug: "/p", Action: "publish"})

	if out.Class != Retryable {
		t.Errorf("timeout class = %v, want Retryable", out.Class)
	}
}
