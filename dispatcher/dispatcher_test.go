package dispatcher

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

	"image-ocr-llm/llm"
)

func writeTestPNG(t *testing.T) string {
	t.Helper()
	// minimal PNG signature plus padding; the dispatcher never decodes pixels
	data := append([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, make([]byte, 16)...)
	path := filepath.Join(t.TempDir(), "sample.png")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

type recorder struct {
	results    chan string
	failures   chan Failure
	done       chan struct{}
	progresses int32
}

func newRecorder() *recorder {
	return &recorder{
		results:  make(chan string, 2),
		failures: make(chan Failure, 2),
		done:     make(chan struct{}, 2),
	}
}

func (rec *recorder) callbacks() Callbacks {
	return Callbacks{
		OnProgress: func(string) { atomic.AddInt32(&rec.progresses, 1) },
		OnResult:   func(text string) { rec.results <- text },
		OnFailure:  func(f Failure) { rec.failures <- f },
		OnDone:     func() { rec.done <- struct{}{} },
	}
}

func (rec *recorder) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-rec.done:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for completion signal")
	}
}

func TestSubmitSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  Hello World  "}}]}`))
	}))
	defer srv.Close()
	llm.Init(&llm.Config{APIKey: "k", Endpoint: srv.URL, Model: "m"})

	rec := newRecorder()
	runner := NewRunner(0)
	ok := runner.Submit(context.Background(), Job{ImagePath: writeTestPNG(t), Model: "m"}, rec.callbacks())
	if !ok {
		t.Fatal("Submit should succeed on idle runner")
	}
	rec.waitDone(t)

	select {
	case text := <-rec.results:
		if text != "Hello World" {
			t.Errorf("Expected trimmed result, got %q", text)
		}
	default:
		t.Fatal("Expected a result")
	}
	select {
	case f := <-rec.failures:
		t.Fatalf("Unexpected failure: %+v", f)
	default:
	}
	if atomic.LoadInt32(&rec.progresses) == 0 {
		t.Error("Expected progress notifications")
	}
}

func TestExactlyOneTerminalAndOneDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"x"}}]}`))
	}))
	defer srv.Close()
	llm.Init(&llm.Config{APIKey: "k", Endpoint: srv.URL, Model: "m"})

	rec := newRecorder()
	runner := NewRunner(0)
	runner.Submit(context.Background(), Job{ImagePath: writeTestPNG(t), Model: "m"}, rec.callbacks())
	rec.waitDone(t)

	time.Sleep(50 * time.Millisecond)
	if len(rec.results)+len(rec.failures) != 1 {
		t.Errorf("Expected exactly one terminal emission, got %d results and %d failures",
			len(rec.results), len(rec.failures))
	}
	if len(rec.done) != 0 {
		t.Error("Expected exactly one completion signal")
	}
}

func TestUnreadableImageIsIOError(t *testing.T) {
	llm.Init(&llm.Config{APIKey: "k", Endpoint: "http://127.0.0.1:0", Model: "m"})

	rec := newRecorder()
	runner := NewRunner(0)
	runner.Submit(context.Background(), Job{ImagePath: filepath.Join(t.TempDir(), "missing.png"), Model: "m"}, rec.callbacks())
	rec.waitDone(t)

	select {
	case f := <-rec.failures:
		if f.Kind != KindIO {
			t.Errorf("Expected IO failure, got %s: %s", f.Kind, f.Message)
		}
	default:
		t.Fatal("Expected a failure")
	}
}

func TestNonOKIsAPIErrorWithRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited"))
	}))
	defer srv.Close()
	llm.Init(&llm.Config{APIKey: "k", Endpoint: srv.URL, Model: "m"})

	rec := newRecorder()
	runner := NewRunner(0)
	runner.Submit(context.Background(), Job{ImagePath: writeTestPNG(t), Model: "m"}, rec.callbacks())
	rec.waitDone(t)

	select {
	case f := <-rec.failures:
		if f.Kind != KindAPI {
			t.Errorf("Expected API failure, got %s", f.Kind)
		}
		if !strings.Contains(f.Message, "rate limited") {
			t.Errorf("Expected raw body in failure message, got %q", f.Message)
		}
	default:
		t.Fatal("Expected a failure")
	}
}

func TestTransportErrorClassification(t *testing.T) {
	// connection refused: no listener on this address
	llm.Init(&llm.Config{APIKey: "k", Endpoint: "http://127.0.0.1:1", Model: "m"})

	rec := newRecorder()
	runner := NewRunner(0)
	runner.Submit(context.Background(), Job{ImagePath: writeTestPNG(t), Model: "m"}, rec.callbacks())
	rec.waitDone(t)

	select {
	case f := <-rec.failures:
		if f.Kind != KindTransport {
			t.Errorf("Expected transport failure, got %s", f.Kind)
		}
	default:
		t.Fatal("Expected a failure")
	}
}

func TestSingleFlight(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"x"}}]}`))
	}))
	defer srv.Close()
	llm.Init(&llm.Config{APIKey: "k", Endpoint: srv.URL, Model: "m"})

	path := writeTestPNG(t)
	rec := newRecorder()
	runner := NewRunner(0)

	if !runner.Submit(context.Background(), Job{ImagePath: path, Model: "m"}, rec.callbacks()) {
		t.Fatal("First submit should succeed")
	}

	// wait until the first request is actually in flight
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if runner.Submit(context.Background(), Job{ImagePath: path, Model: "m"}, rec.callbacks()) {
		t.Error("Second submit while in flight should be rejected")
	}
	if !runner.Busy() {
		t.Error("Runner should report busy while a job is in flight")
	}

	close(release)
	rec.waitDone(t)

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected exactly one network call, got %d", n)
	}
	if runner.Busy() {
		t.Error("Runner should be idle after completion")
	}

	// slot is free again: a new submission must be accepted
	if !runner.Submit(context.Background(), Job{ImagePath: path, Model: "m"}, rec.callbacks()) {
		t.Error("Submit after completion should succeed")
	}
	rec.waitDone(t)
}

func TestCancelAbortsInFlightJob(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)
	llm.Init(&llm.Config{APIKey: "k", Endpoint: srv.URL, Model: "m"})

	rec := newRecorder()
	runner := NewRunner(0)
	runner.Submit(context.Background(), Job{ImagePath: writeTestPNG(t), Model: "m"}, rec.callbacks())

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("Request never reached the server")
	}

	runner.Cancel()
	rec.waitDone(t)

	select {
	case f := <-rec.failures:
		if f.Kind != KindTransport {
			t.Errorf("Expected transport failure after cancel, got %s", f.Kind)
		}
	default:
		t.Fatal("Expected a failure after cancellation")
	}
}

func TestDeadlineExpiresAsTransportFailure(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)
	llm.Init(&llm.Config{APIKey: "k", Endpoint: srv.URL, Model: "m"})

	rec := newRecorder()
	runner := NewRunner(50 * time.Millisecond)
	runner.Submit(context.Background(), Job{ImagePath: writeTestPNG(t), Model: "m"}, rec.callbacks())
	rec.waitDone(t)

	select {
	case f := <-rec.failures:
		if f.Kind != KindTransport {
			t.Errorf("Expected transport failure on timeout, got %s", f.Kind)
		}
	default:
		t.Fatal("Expected a failure on timeout")
	}
}

func TestPreloadedDataSkipsFileRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"pasted"}}]}`))
	}))
	defer srv.Close()
	llm.Init(&llm.Config{APIKey: "k", Endpoint: srv.URL, Model: "m"})

	rec := newRecorder()
	runner := NewRunner(0)
	job := Job{Data: []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, MIME: "image/png", Model: "m"}
	runner.Submit(context.Background(), job, rec.callbacks())
	rec.waitDone(t)

	select {
	case text := <-rec.results:
		if text != "pasted" {
			t.Errorf("Expected result from preloaded data, got %q", text)
		}
	default:
		t.Fatal("Expected a result")
	}
}
