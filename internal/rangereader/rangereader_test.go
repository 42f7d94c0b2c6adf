package rangereader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newTestServer(t *testing.T, body []byte, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(hits, 1)
		if req.Method == http.MethodHead {
			w.Header().Set("Content-Length", "0")
			w.WriteHeader(http.StatusOK)
			return
		}
		rng := req.Header.Get("Range")
		if rng == "" {
			t.Fatalf("expected Range header on GET")
		}
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(body)
	}))
}

func TestRangeReaderReadsAndCaches(t *testing.T) {
	var hits int32
	body := []byte("hello world")
	srv := newTestServer(t, body, &hits)
	defer srv.Close()

	r, err := Open(srv.URL, 10*1<<20)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	data, err := r.Read(context.Background(), 0, int64(len(body)))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != string(body) {
		t.Fatalf("got %q, want %q", data, body)
	}

	if _, err := r.Read(context.Background(), 0, int64(len(body))); err != nil {
		t.Fatalf("second Read: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected 1 network hit after cache reuse, got %d", hits)
	}
}

func TestRangeReaderDifferentRangesBothFetch(t *testing.T) {
	var hits int32
	body := []byte("0123456789")
	srv := newTestServer(t, body, &hits)
	defer srv.Close()

	r, err := Open(srv.URL, 10*1<<20)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if _, err := r.Read(context.Background(), 0, 5); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if _, err := r.Read(context.Background(), 5, 5); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if hits != 2 {
		t.Fatalf("expected 2 network hits for distinct ranges, got %d", hits)
	}
}

func TestRangeReaderSize(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Length", "42")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r, err := Open(srv.URL, 1<<20)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	size, err := r.Size(context.Background())
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 42 {
		t.Fatalf("got size %d, want 42", size)
	}

	// second call must not re-hit the network
	if _, err := r.Size(context.Background()); err != nil {
		t.Fatalf("Size (cached): %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected Size to HEAD once, got %d hits", hits)
	}
}

func TestRangeReaderClosedRejectsReads(t *testing.T) {
	var hits int32
	srv := newTestServer(t, []byte("x"), &hits)
	defer srv.Close()

	r, err := Open(srv.URL, 1<<20)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := r.Read(context.Background(), 0, 1); err == nil {
		t.Fatalf("expected Read after Close to fail")
	}
}
