package client_test

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/adamwoolhether/dlfile/client"
	"github.com/adamwoolhether/dlfile/client/throttle"
	"github.com/adamwoolhether/dlfile/download"
	"github.com/adamwoolhether/dlfile/progress"
)

// roundTripFunc adapts a function into an http.RoundTripper.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func serve(t *testing.T, h http.HandlerFunc) *url.URL {
	t.Helper()

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}
	return u
}

func openDest(t *testing.T, name string, opts ...download.Option) (*download.File, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	f, err := download.Open(path, download.ReplaceIfEmpty, opts...)
	if err != nil {
		t.Fatalf("opening destination: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })

	return f, path
}

// truncatedBody answers with a Content-Length larger than what it sends,
// then drops the connection.
func truncatedBody(t *testing.T, w http.ResponseWriter, declared int, sent string) {
	t.Helper()

	conn, buf, err := w.(http.Hijacker).Hijack()
	if err != nil {
		t.Errorf("hijacking: %v", err)
		return
	}
	defer conn.Close()

	_, _ = buf.WriteString("HTTP/1.1 200 OK\r\nContent-Length: " + strconv.Itoa(declared) + "\r\n\r\n" + sent)
	_ = buf.Flush()
}

func TestClient_WithUserAgent(t *testing.T) {
	expectedUA := "TestUserAgent/1.0"

	u := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != expectedUA {
			t.Errorf("expected User-Agent %q, got %q", expectedUA, ua)
		}
		_, _ = w.Write([]byte("ok"))
	})

	c, err := client.Build(client.WithThrottle(100, 10), client.WithUserAgent(expectedUA))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	f, _ := openDest(t, "ua.bin")
	req, err := c.Request(t.Context(), u, http.MethodGet)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	if _, err := c.Download(req, http.StatusOK, f); err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
}

func TestClient_BuildValidation(t *testing.T) {
	testCases := map[string]client.Option{
		"nil transport":    client.WithTransport(nil),
		"nil client":       client.WithClient(nil),
		"negative timeout": client.WithTimeout(-1),
		"zero rps":         client.WithThrottle(0, 10),
		"zero burst":       client.WithThrottle(10, 0),
		"negative retries": client.WithRetries(-1, time.Second),
		"negative backoff": client.WithRetries(1, -time.Second),
	}

	for name, opt := range testCases {
		t.Run(name, func(t *testing.T) {
			if _, err := client.Build(opt); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	_, err := client.Build(client.WithThrottle(0, 10))
	if !errors.Is(err, throttle.ErrMustNotBeZero) {
		t.Errorf("expected ErrMustNotBeZero, got: %v", err)
	}
}

func TestClient_WithTransport(t *testing.T) {
	var called bool
	custom := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		called = true
		return http.DefaultTransport.RoundTrip(r)
	})

	u := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	c, err := client.Build(client.WithTransport(custom))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	f, _ := openDest(t, "transport.bin")
	req, _ := c.Request(t.Context(), u, http.MethodGet)
	if _, err := c.Download(req, http.StatusOK, f); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if !called {
		t.Error("custom transport was not called")
	}
}

func TestClient_WithNoFollowRedirects(t *testing.T) {
	u := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/final" {
			_, _ = w.Write([]byte("final"))
			return
		}
		http.Redirect(w, r, "/final", http.StatusFound)
	})

	c, err := client.Build(client.WithNoFollowRedirects())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	f, _ := openDest(t, "redirect.bin")
	req, _ := c.Request(t.Context(), u, http.MethodGet)
	if _, err := c.Download(req, http.StatusFound, f); err != nil {
		t.Errorf("expected 302 to be accepted, got: %v", err)
	}
}

func TestClient_Download_Basic(t *testing.T) {
	expBody := bytes.Repeat([]byte("hello download world "), 4096)

	u := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(expBody)))
		_, _ = w.Write(expBody)
	})

	c, err := client.Build()
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}

	handle := progress.NewHandle(nil)
	f, path := openDest(t, "basic.bin", download.WithProgress(handle))

	req, err := c.Request(t.Context(), u, http.MethodGet)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}

	n, err := c.Download(req, http.StatusOK, f)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if n != int64(len(expBody)) {
		t.Errorf("written = %d, want %d", n, len(expBody))
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	if !bytes.Equal(got, expBody) {
		t.Errorf("file contents differ: got %d bytes, want %d", len(got), len(expBody))
	}

	total, ok := handle.TotalBytes()
	if !ok || total != int64(len(expBody)) {
		t.Errorf("total = %d (known %t), want %d", total, ok, len(expBody))
	}
	if !handle.IsFinished() || handle.BytesWritten() != int64(len(expBody)) {
		t.Errorf("progress not complete: state %s, written %d", handle.State(), handle.BytesWritten())
	}
}

func TestClient_Download_StatusKinds(t *testing.T) {
	testCases := []struct {
		status int
		kind   error
	}{
		{status: http.StatusUnauthorized, kind: fs.ErrPermission},
		{status: http.StatusForbidden, kind: client.ErrAuthFailure},
		{status: http.StatusConflict, kind: fs.ErrExist},
		{status: http.StatusNotFound, kind: fs.ErrNotExist},
		{status: http.StatusGone, kind: fs.ErrNotExist},
		{status: http.StatusTeapot, kind: client.ErrInvalidRequest},
		{status: http.StatusBadGateway, kind: client.ErrServer},
	}

	for _, tc := range testCases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			u := serve(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte("nope"))
			})

			c, err := client.Build()
			if err != nil {
				t.Fatalf("creating client: %v", err)
			}

			f, path := openDest(t, "status.bin")
			req, _ := c.Request(t.Context(), u, http.MethodGet)

			_, err = c.Download(req, http.StatusOK, f)
			if !errors.Is(err, client.ErrUnexpectedStatusCode) {
				t.Fatalf("expected ErrUnexpectedStatusCode, got %v", err)
			}
			if !errors.Is(err, tc.kind) {
				t.Errorf("expected %v, got %v", tc.kind, err)
			}

			var statusErr *client.UnexpectedStatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("expected *UnexpectedStatusError, got %T", err)
			}
			if diff := cmp.Diff(client.UnexpectedStatusError{StatusCode: tc.status, Body: "nope", Err: client.ErrUnexpectedStatusCode}, *statusErr,
				cmpErrors); diff != "" {
				t.Errorf("status error mismatch (-want +got):\n%s", diff)
			}

			if err := f.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}
			if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
				t.Errorf("expected empty destination to be removed, stat: %v", statErr)
			}
		})
	}
}

var cmpErrors = cmp.Comparer(func(a, b error) bool { return errors.Is(a, b) })

func TestClient_Download_ErrorBodyCapped(t *testing.T) {
	u := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write(bytes.Repeat([]byte("e"), 64<<10))
	})

	c, _ := client.Build()
	f, _ := openDest(t, "capped.bin")
	req, _ := c.Request(t.Context(), u, http.MethodGet)

	_, err := c.Download(req, http.StatusOK, f)

	var statusErr *client.UnexpectedStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *UnexpectedStatusError, got %v", err)
	}
	if got := len(statusErr.Body); got != 4<<10 {
		t.Errorf("error body length = %d, want %d", got, 4<<10)
	}
}

func TestClient_Download_Decoding(t *testing.T) {
	expBody := bytes.Repeat([]byte("compressible "), 2000)

	encoders := map[string]func(*bytes.Buffer){
		"gzip": func(buf *bytes.Buffer) {
			zw := gzip.NewWriter(buf)
			_, _ = zw.Write(expBody)
			_ = zw.Close()
		},
		"zstd": func(buf *bytes.Buffer) {
			zw, _ := zstd.NewWriter(buf)
			_, _ = zw.Write(expBody)
			_ = zw.Close()
		},
	}

	for encoding, encode := range encoders {
		t.Run(encoding, func(t *testing.T) {
			var encoded bytes.Buffer
			encode(&encoded)

			u := serve(t, func(w http.ResponseWriter, r *http.Request) {
				if !strings.Contains(r.Header.Get("Accept-Encoding"), encoding) {
					t.Errorf("Accept-Encoding %q does not offer %s", r.Header.Get("Accept-Encoding"), encoding)
				}
				w.Header().Set("Content-Encoding", encoding)
				w.Header().Set("Content-Length", strconv.Itoa(encoded.Len()))
				_, _ = w.Write(encoded.Bytes())
			})

			c, err := client.Build(client.WithDecoding())
			if err != nil {
				t.Fatalf("creating client: %v", err)
			}

			handle := progress.NewHandle(nil)
			f, path := openDest(t, "decoded.bin", download.WithProgress(handle))
			req, _ := c.Request(t.Context(), u, http.MethodGet)

			if _, err := c.Download(req, http.StatusOK, f); err != nil {
				t.Fatalf("download: %v", err)
			}
			if err := f.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}

			got, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("reading file: %v", err)
			}
			if !bytes.Equal(got, expBody) {
				t.Errorf("decoded contents differ: got %d bytes, want %d", len(got), len(expBody))
			}
			if _, ok := handle.TotalBytes(); ok {
				t.Error("decoded body must report an unknown total")
			}
		})
	}

	t.Run("error status keeps its kind", func(t *testing.T) {
		var calls atomic.Int32
		u := serve(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Header().Set("Content-Encoding", "gzip")
			w.WriteHeader(http.StatusNotFound)
		})

		c, err := client.Build(client.WithDecoding(), client.WithRetries(2, time.Millisecond))
		if err != nil {
			t.Fatalf("creating client: %v", err)
		}

		path := filepath.Join(t.TempDir(), "missing.bin")
		_, err = c.Fetch(t.Context(), u, path, download.ReplaceIfEmpty)

		var statusErr *client.UnexpectedStatusError
		if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
			t.Fatalf("expected a 404 status error, got %v", err)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("expected fs.ErrNotExist, got %v", err)
		}
		if got := calls.Load(); got != 1 {
			t.Errorf("a 404 must not be retried, server saw %d requests", got)
		}
	})

	t.Run("malformed body fails as a source error", func(t *testing.T) {
		for _, body := range []string{"", "plain text, not gzip"} {
			u := serve(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Encoding", "gzip")
				_, _ = w.Write([]byte(body))
			})

			c, err := client.Build(client.WithDecoding())
			if err != nil {
				t.Fatalf("creating client: %v", err)
			}

			f, _ := openDest(t, "bad.bin")
			req, _ := c.Request(t.Context(), u, http.MethodGet)

			_, err = c.Download(req, http.StatusOK, f)

			var ce *download.CopyError
			if !errors.As(err, &ce) || ce.Op != download.OpSource {
				t.Errorf("body %q: expected a source CopyError, got %v", body, err)
			}
		}
	})
}

func TestClient_Download_TruncatedBody(t *testing.T) {
	u := serve(t, func(w http.ResponseWriter, r *http.Request) {
		truncatedBody(t, w, 100, "partial")
	})

	c, _ := client.Build()
	f, path := openDest(t, "truncated.bin")
	req, _ := c.Request(t.Context(), u, http.MethodGet)

	n, err := c.Download(req, http.StatusOK, f)
	if err == nil {
		t.Fatal("expected error for truncated body")
	}

	var ce *download.CopyError
	if !errors.As(err, &ce) || ce.Op != download.OpSource {
		t.Fatalf("expected source CopyError, got %v", err)
	}
	if n != int64(len("partial")) {
		t.Errorf("written = %d, want %d", n, len("partial"))
	}

	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("partial file should be kept: %v", err)
	}
	if string(got) != "partial" {
		t.Errorf("contents = %q, want %q", got, "partial")
	}
}

func TestClient_Download_CancelMidDownload(t *testing.T) {
	const chunkSize = 1024
	const totalChunks = 20
	chunk := bytes.Repeat([]byte("a"), chunkSize)

	u := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(chunkSize*totalChunks))
		w.WriteHeader(http.StatusOK)

		for range totalChunks {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			select {
			case <-r.Context().Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	})

	c, _ := client.Build()
	handle := progress.NewHandle(nil)
	f, path := openDest(t, "cancelled.bin", download.WithProgress(handle))

	ctx, cancel := context.WithCancel(t.Context())
	req, _ := c.Request(ctx, u, http.MethodGet)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Download(req, http.StatusOK, f)
		errCh <- err
	}()

	// Let a few chunks arrive, then cancel.
	time.Sleep(250 * time.Millisecond)
	cancel()

	err := <-errCh
	if !errors.Is(err, client.ErrDownloadCancelled) {
		t.Fatalf("expected ErrDownloadCancelled, got: %v", err)
	}
	if handle.IsFinished() {
		t.Error("cancelled download must not be reported finished")
	}

	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("partial file should be kept: %v", err)
	}
	if info.Size() == 0 || info.Size() >= chunkSize*totalChunks {
		t.Errorf("expected a partial file, got %d bytes", info.Size())
	}
}

func TestClient_Download_AlreadyCancelledContext(t *testing.T) {
	u := serve(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not have been made")
	})

	c, _ := client.Build()
	f, _ := openDest(t, "never.bin")

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	req, _ := c.Request(ctx, u, http.MethodGet)

	// The HTTP client rejects the request before it's sent, so the
	// error wraps context.Canceled without a transfer ever starting.
	if _, err := c.Download(req, http.StatusOK, f); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
}

func TestClient_Fetch(t *testing.T) {
	expBody := []byte("fetched body")

	u := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(expBody)
	})

	c, _ := client.Build()
	path := filepath.Join(t.TempDir(), "fetch.bin")

	n, err := c.Fetch(t.Context(), u, path, download.CreateExclusive)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if n != int64(len(expBody)) {
		t.Errorf("written = %d, want %d", n, len(expBody))
	}

	// The destination now exists and is not empty.
	_, err = c.Fetch(t.Context(), u, path, download.ReplaceIfEmpty)
	if !errors.Is(err, fs.ErrExist) {
		t.Errorf("expected fs.ErrExist for a second fetch, got %v", err)
	}
}

func TestClient_Fetch_Retries(t *testing.T) {
	full := "complete body"

	testCases := map[string]func(t *testing.T, w http.ResponseWriter){
		"server error": func(t *testing.T, w http.ResponseWriter) {
			w.WriteHeader(http.StatusServiceUnavailable)
		},
		"broken body": func(t *testing.T, w http.ResponseWriter) {
			truncatedBody(t, w, 100, "garbage that must not survive")
		},
	}

	for name, firstFailure := range testCases {
		t.Run(name, func(t *testing.T) {
			var calls atomic.Int32
			u := serve(t, func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) == 1 {
					firstFailure(t, w)
					return
				}
				w.Header().Set("Content-Length", strconv.Itoa(len(full)))
				_, _ = w.Write([]byte(full))
			})

			c, err := client.Build(client.WithRetries(2, time.Millisecond))
			if err != nil {
				t.Fatalf("creating client: %v", err)
			}

			path := filepath.Join(t.TempDir(), "retry.bin")
			if _, err := c.Fetch(t.Context(), u, path, download.Replace); err != nil {
				t.Fatalf("fetch: %v", err)
			}

			if got := calls.Load(); got != 2 {
				t.Errorf("requests = %d, want 2", got)
			}

			got, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("reading file: %v", err)
			}
			if string(got) != full {
				t.Errorf("contents = %q, want %q", got, full)
			}
		})
	}
}

func TestClient_Fetch_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	u := serve(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	c, _ := client.Build(client.WithRetries(3, time.Millisecond))
	path := filepath.Join(t.TempDir(), "missing.bin")

	if _, err := c.Fetch(t.Context(), u, path, download.Replace); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected empty destination to be removed, stat: %v", err)
	}
}

func TestClient_Request(t *testing.T) {
	u := client.URL("https", "example.com", "/file.bin")
	cookie := &http.Cookie{Name: "session", Value: "abc"}

	req, err := client.Request(t.Context(), u, http.MethodGet,
		client.WithHeaders(map[string][]string{"X-Trace": {"1", "2"}}),
		client.WithCookies(cookie),
	)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if diff := cmp.Diff([]string{"1", "2"}, req.Header.Values("X-Trace")); diff != "" {
		t.Errorf("headers mismatch (-want +got):\n%s", diff)
	}
	if got, err := req.Cookie("session"); err != nil || got.Value != "abc" {
		t.Errorf("cookie = %v, %v", got, err)
	}
	if req.Body != nil && req.Body != http.NoBody {
		t.Error("download requests carry no body")
	}
}

func TestClient_URL(t *testing.T) {
	testCases := map[string]struct {
		scheme string
		host   string
		path   string
		opts   []client.URLOption
		exp    string
	}{
		"plain": {
			scheme: "https", host: "example.com", path: "/a.bin",
			exp: "https://example.com/a.bin",
		},
		"port and query": {
			scheme: "http", host: "localhost", path: "/b.bin",
			opts: []client.URLOption{client.WithPort(8080), client.WithQueryStrings(map[string]string{"v": "2"})},
			exp:  "http://localhost:8080/b.bin?v=2",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			if got := client.URL(tc.scheme, tc.host, tc.path, tc.opts...).String(); got != tc.exp {
				t.Errorf("exp generated url: %q, got: %q", tc.exp, got)
			}
		})
	}
}
