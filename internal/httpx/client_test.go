package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/quasar-finance/daoresolve/internal/errors"
)

func TestDoJSONRetriesServerError(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&count, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"x"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 1)
	var out map[string]any
	if _, err := GetJSON(context.Background(), client, srv.URL, &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if out["ok"] != true {
		t.Fatalf("unexpected response: %#v", out)
	}
}

func TestDoJSONWithoutRetriesSurfacesStatusBody(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("contract not found"))
	}))
	defer srv.Close()

	_, err := GetJSON(context.Background(), New(2*time.Second, 0), srv.URL, nil)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if atomic.LoadInt32(&count) != 1 {
		t.Fatalf("expected a single request, got %d", count)
	}
	status, ok := AsStatus(err)
	if !ok {
		t.Fatalf("expected status error in chain, got %v", err)
	}
	if status.StatusCode != http.StatusNotFound || !strings.Contains(status.Body, "contract not found") {
		t.Fatalf("unexpected status error: %+v", status)
	}
	if !clierr.HasCode(err, clierr.CodeUnavailable) {
		t.Fatalf("expected unavailable code, got %v", err)
	}
}
