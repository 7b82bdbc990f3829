package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/audio-check/internal/failure"
)

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

type staticToken string

func (s staticToken) SessionToken() string { return string(s) }

func newTestClient(t *testing.T, endpoint string, opts Options) (*Client, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	opts.Endpoint = endpoint
	opts.Sleep = rec.sleep
	return New(opts, zap.NewNop()), rec
}

func mustRequest(t *testing.T) *UploadRequest {
	t.Helper()
	req, err := NewUploadRequest("sample.wav", []byte("RIFF....WAVEfmt "))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	return req
}

func TestSubmitRetriesServiceUnavailableThreeTimes(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, rec := newTestClient(t, server.URL+"/upload", Options{})
	outcome := client.Submit(context.Background(), mustRequest(t))

	if outcome.OK() {
		t.Fatal("expected failure")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	if len(rec.waits) != 2 || rec.waits[0] != 2*time.Second || rec.waits[1] != 4*time.Second {
		t.Fatalf("expected waits [2s 4s], got %v", rec.waits)
	}
	if outcome.Failure.Kind != failure.HTTP {
		t.Fatalf("expected %s, got %s", failure.HTTP, outcome.Failure.Kind)
	}
	if outcome.Failure.Message != "status 503 Service Unavailable" {
		t.Fatalf("unexpected message: %q", outcome.Failure.Message)
	}
}

func TestSubmitDoesNotRetryClientErrors(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError} {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))

		client, rec := newTestClient(t, server.URL, Options{})
		outcome := client.Submit(context.Background(), mustRequest(t))
		server.Close()

		if got := atomic.LoadInt32(&calls); got != 1 {
			t.Fatalf("status %d: expected 1 attempt, got %d", status, got)
		}
		if len(rec.waits) != 0 {
			t.Fatalf("status %d: expected no waits, got %v", status, rec.waits)
		}
		if outcome.Failure == nil || outcome.Failure.Kind != failure.HTTP {
			t.Fatalf("status %d: expected http error, got %+v", status, outcome.Failure)
		}
		if outcome.Failure.Err == nil || outcome.Failure.Err.Error() != "nope" {
			t.Fatalf("status %d: expected server detail, got %v", status, outcome.Failure.Err)
		}
	}
}

func TestSubmitRecoversAfterServiceUnavailable(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"realProbability": 82, "fakeProbability": 18}`))
	}))
	defer server.Close()

	client, rec := newTestClient(t, server.URL, Options{})
	outcome := client.Submit(context.Background(), mustRequest(t))

	if !outcome.OK() {
		t.Fatalf("expected success, got %v", outcome.Err())
	}
	if len(rec.waits) != 1 || rec.waits[0] != 2*time.Second {
		t.Fatalf("expected a single 2s wait, got %v", rec.waits)
	}
	if string(outcome.Raw) != `{"realProbability": 82, "fakeProbability": 18}` {
		t.Fatalf("unexpected body: %s", outcome.Raw)
	}
}

func TestSubmitRetriesNetworkFailures(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	client, rec := newTestClient(t, endpoint, Options{Timeout: time.Second})
	outcome := client.Submit(context.Background(), mustRequest(t))

	if outcome.Failure == nil || outcome.Failure.Kind != failure.Network {
		t.Fatalf("expected network error, got %+v", outcome.Failure)
	}
	if len(rec.waits) != 2 {
		t.Fatalf("expected 2 waits before giving up, got %v", rec.waits)
	}
}

func TestSubmitReportsParseError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, Options{})
	outcome := client.Submit(context.Background(), mustRequest(t))

	if outcome.Failure == nil || outcome.Failure.Kind != failure.Parse {
		t.Fatalf("expected parse error, got %+v", outcome.Failure)
	}
}

func TestSubmitRejectsOversizedResponse(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		padding := strings.Repeat(" ", maxResponseBytes)
		_, _ = w.Write([]byte(`{"realProbability": 50,` + padding + `"fakeProbability": 50}`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, Options{})
	outcome := client.Submit(context.Background(), mustRequest(t))

	if outcome.Failure == nil || outcome.Failure.Kind != failure.Parse {
		t.Fatalf("expected parse failure, got %+v", outcome.Failure)
	}
	if !strings.Contains(outcome.Failure.Message, "larger than") {
		t.Fatalf("expected size to be reported, got %q", outcome.Failure.Message)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected no retry, got %d calls", got)
	}
}

func TestSubmitKeepsStatusForOversizedErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(strings.Repeat("x", maxResponseBytes+10)))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, Options{})
	outcome := client.Submit(context.Background(), mustRequest(t))

	if outcome.Failure == nil || outcome.Failure.Kind != failure.HTTP {
		t.Fatalf("expected http failure, got %+v", outcome.Failure)
	}
}

func TestSubmitSendsMultipartWithHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("unexpected accept header: %q", r.Header.Get("Accept"))
		}
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			t.Errorf("unexpected authorization header: %q", r.Header.Get("Authorization"))
		}
		if c, err := r.Cookie(SessionCookie); err != nil || c.Value != "tok-1" {
			t.Errorf("expected session cookie, got %v %v", c, err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("expected file field: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "sample.wav" || string(data) != "RIFF....WAVEfmt " {
			t.Errorf("unexpected upload %s %q", header.Filename, data)
		}
		if header.Header.Get("Content-Type") != "audio/wav" {
			t.Errorf("unexpected part content type %q", header.Header.Get("Content-Type"))
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, Options{IncludeCredentials: true, Tokens: staticToken("tok-1")})
	if outcome := client.Submit(context.Background(), mustRequest(t)); !outcome.OK() {
		t.Fatalf("expected success, got %v", outcome.Err())
	}
}

func TestSubmitOmitsCredentialsWhenDisabled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("expected no authorization header")
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, Options{Tokens: staticToken("tok-1")})
	if outcome := client.Submit(context.Background(), mustRequest(t)); !outcome.OK() {
		t.Fatalf("expected success, got %v", outcome.Err())
	}
}

func TestSubmitNilRequestIsValidationError(t *testing.T) {
	client, _ := newTestClient(t, "http://127.0.0.1:1", Options{})
	outcome := client.Submit(context.Background(), nil)
	if outcome.Failure == nil || outcome.Failure.Kind != failure.Validation {
		t.Fatalf("expected validation error, got %+v", outcome.Failure)
	}
}

func TestSubmitStopsWhenContextEndsDuringBackoff(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := New(Options{
		Endpoint: server.URL,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}, zap.NewNop())

	outcome := client.Submit(ctx, mustRequest(t))
	if outcome.Failure == nil || outcome.Failure.Kind != failure.Network {
		t.Fatalf("expected network error, got %+v", outcome.Failure)
	}
	if !errors.Is(outcome.Err(), context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", outcome.Err())
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 attempt, got %d", got)
	}
}

func TestRetryPolicyWait(t *testing.T) {
	p := DefaultRetryPolicy
	want := []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second, 6 * time.Second}
	for i, w := range want {
		if got := p.Wait(i + 1); got != w {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, w, got)
		}
	}
	if (RetryPolicy{}).Wait(1) != 0 {
		t.Fatal("expected empty policy to never wait")
	}
}

func TestNewUploadRequestValidation(t *testing.T) {
	if _, err := NewUploadRequest("", []byte("x")); !failure.Is(err, failure.Validation) {
		t.Fatalf("expected validation error for missing name, got %v", err)
	}
	if _, err := NewUploadRequest("a.wav", nil); !failure.Is(err, failure.Validation) {
		t.Fatalf("expected validation error for empty payload, got %v", err)
	}

	data := []byte("abc")
	req, err := NewUploadRequest("/tmp/dir/voice.MP3", data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data[0] = 'z'
	body, _ := io.ReadAll(req.body())
	if string(body) != "abc" {
		t.Fatalf("expected request to own its payload, got %q", body)
	}
	if req.Filename() != "voice.MP3" || req.ContentType() != "audio/mpeg" {
		t.Fatalf("unexpected request metadata: %s %s", req.Filename(), req.ContentType())
	}
}

func TestUploadRequestDigest(t *testing.T) {
	req, _ := NewUploadRequest("a.wav", []byte("abc"))
	if req.Digest() != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("unexpected digest %s", req.Digest())
	}
}
