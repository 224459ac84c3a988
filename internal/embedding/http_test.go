package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPEmbedder_EmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Model != "all-minilm" || len(req.Input) != 2 {
			t.Errorf("unexpected request: %+v", req)
		}
		// Out of order on purpose; index decides placement.
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	e, err := NewHTTPEmbedder(srv.URL, "all-minilm", "secret", 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatal(err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("vectors not placed by index: %v", vecs)
	}
}

func TestHTTPEmbedder_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e, _ := NewHTTPEmbedder(srv.URL, "m", "", 2, nil)
	defer e.Close()
	_, err := e.Embed(context.Background(), "x")
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if !pe.RateLimited() || !pe.Temporary() {
		t.Errorf("429 should be rate limited and temporary: %+v", pe)
	}
	if pe.RetryAfter != 2*time.Second {
		t.Errorf("RetryAfter=%v", pe.RetryAfter)
	}
}

func TestHTTPEmbedder_MissingVectors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	e, _ := NewHTTPEmbedder(srv.URL, "m", "", 2, nil)
	defer e.Close()
	if _, err := e.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Error("expected error for short response")
	}
}

func TestNewHTTPEmbedder_validates(t *testing.T) {
	if _, err := NewHTTPEmbedder("", "m", "", 2, nil); err == nil {
		t.Error("endpoint required")
	}
	if _, err := NewHTTPEmbedder("http://x", "", "", 2, nil); err == nil {
		t.Error("model required")
	}
	if _, err := NewHTTPEmbedder("http://x", "m", "", 0, nil); err == nil {
		t.Error("dimensions required")
	}
}

func TestProviderError_Temporary(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusRequestTimeout, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		if got := (&ProviderError{StatusCode: tt.code}).Temporary(); got != tt.want {
			t.Errorf("Temporary(%d)=%v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	if parseRetryAfter("3") != 3*time.Second {
		t.Error("seconds form")
	}
	if parseRetryAfter("") != 0 || parseRetryAfter("soon") != 0 {
		t.Error("empty or invalid should be zero")
	}
}
