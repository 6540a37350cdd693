package kurirgo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestDownloadStreamsToFile(t *testing.T) {
	payload := strings.Repeat("data", 1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out", "file.bin")
	client := New(WithBaseURL(server.URL))

	var final int64
	result := client.Download(context.Background(), "/file", dest,
		WithProgress(func(transferred, total int64) {
			atomic.StoreInt64(&final, transferred)
		}))
	if result.IsFailure() {
		t.Fatalf("download failed: %v", result.Failure())
	}

	info := result.Value()
	if info.Path != dest || info.Size != int64(len(payload)) || info.StatusCode != http.StatusOK {
		t.Errorf("unexpected download info: %+v", info)
	}
	written, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if string(written) != payload {
		t.Error("destination file content mismatch")
	}
	if atomic.LoadInt64(&final) != int64(len(payload)) {
		t.Errorf("progress final %d, want %d", final, len(payload))
	}
}

func TestDownloadErrorStatusLeavesNoFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"missing"}`))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	client := New(WithBaseURL(server.URL), WithRetryDisabled())

	result := client.Download(context.Background(), "/missing", dest)
	if result.IsSuccess() {
		t.Fatal("expected failure")
	}
	if result.Failure().Kind != KindNotFound {
		t.Errorf("expected NotFound, got %s", result.Failure().Kind)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("no file should be created for an error response")
	}
}

func TestDownloadSkipsTransforms(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("raw bytes"))
	}))
	defer server.Close()

	var requestHookCalls, responseHookCalls int32
	client := New(
		WithBaseURL(server.URL),
		WithRequestTransform(func(endpoint string, body []byte, req *http.Request) ([]byte, error) {
			atomic.AddInt32(&requestHookCalls, 1)
			return body, nil
		}),
		WithResponseTransform(func(endpoint string, resp *http.Response) ([]byte, error) {
			atomic.AddInt32(&responseHookCalls, 1)
			return []byte("mangled"), nil
		}),
	)

	dest := filepath.Join(t.TempDir(), "file.bin")
	result := client.Download(context.Background(), "/blob", dest)
	if result.IsFailure() {
		t.Fatalf("download failed: %v", result.Failure())
	}
	if atomic.LoadInt32(&requestHookCalls) != 0 || atomic.LoadInt32(&responseHookCalls) != 0 {
		t.Errorf("downloads must not run body transforms (request=%d, response=%d)",
			requestHookCalls, responseHookCalls)
	}
	written, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if string(written) != "raw bytes" {
		t.Errorf("destination holds %q", written)
	}
}

func TestDownloadBypassesCache(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte("blob"))
	}))
	defer server.Close()

	dir := t.TempDir()
	client := New(WithBaseURL(server.URL), WithCache(100, time.Minute))

	client.Download(context.Background(), "/blob", filepath.Join(dir, "a"))
	client.Download(context.Background(), "/blob", filepath.Join(dir, "b"))

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("downloads must not share cached responses, got %d calls", got)
	}
}
