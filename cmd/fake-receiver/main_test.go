package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newRequest(secret, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/revalidate", strings.NewReader(body))
	if secret != "" {
		req.Header.Set("X-Revalidate-Secret", secret)
	}
	return req
}

func TestHandleRevalidate(t *testing.T) {
	rc := &receiver{secret: "s3cret", secretHeader: "X-Revalidate-Secret"}

	rr := httptest.NewRecorder()
	rc.handleRevalidate(rr, newRequest("s3cret", `{"slug":"/posts/hello","action":"publish"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	var resp revalidateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Revalidated || resp.Slug != "/posts/hello" {
		t.Errorf("response = %+v", resp)
	}
}

func TestHandleRevalidateBadSecret(t *testing.T) {
	rc := &receiver{secret: "s3cret", secretHeader: "X-Revalidate-Secret"}

	rr := httptest.NewRecorder()
	rc.handleRevalidate(rr, newRequest("wrong", `{"slug":"/posts/hello"}`))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}

	rr = httptest.NewRecorder()
	rc.handleRevalidate(rr, newRequest("", `{"slug":"/posts/hello"}`))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("missing header: status = %d, want 401", rr.Code)
	}
}

func TestHandleRevalidateMissingSlug(t *testing.T) {
	rc := &receiver{secret: "s3cret", secretHeader: "X-Revalidate-Secret"}

	for _, body := range []string{`{"action":"publish"}`, `not json`} {
		rr := httptest.NewRecorder()
		rc.handleRevalidate(rr, newRequest("s3cret", body))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rr.Code)
		}
	}
}

func TestHandleRevalidateFailFirstN(t *testing.T) {
	rc := &receiver{secretHeader: "X-Revalidate-Secret", failFirstN: 2}

	for i := 1; i <= 3; i++ {
		rr := httptest.NewRecorder()
		rc.handleRevalidate(rr, newRequest("", `{"slug":"/posts/hello"}`))
		want := http.StatusInternalServerError
		if i > 2 {
			want = http.StatusOK
		}
		if rr.Code != want {
			t.Errorf("request %d: status = %d, want %d", i, rr.Code, want)
		}
	}
}
