package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"image-ocr-llm/imagefile"
	"image-ocr-llm/llm"
)

// FailureKind classifies terminal job failures.
type FailureKind string

const (
	// KindIO means the image could not be read.
	KindIO FailureKind = "io"
	// KindAPI means the remote API answered non-200; Message is the raw body.
	KindAPI FailureKind = "api"
	// KindTransport covers everything else: network, timeout, cancel, parse.
	KindTransport FailureKind = "transport"
)

// Job is one user-initiated OCR request. Immutable; discarded once the
// single request completes. Data is set when the image came from the
// clipboard or a screen capture, otherwise ImagePath is read at run time.
type Job struct {
	ImagePath string
	Data      []byte
	MIME      string
	Model     string
	Endpoint  string
}

type Failure struct {
	Kind    FailureKind
	Message string
}

func (f Failure) Error() string { return f.Message }

// Callbacks receive job notifications from the worker goroutine. Exactly one
// of OnResult/OnFailure fires per job, then OnDone exactly once. Callers
// that own UI state must marshal these onto their own thread.
type Callbacks struct {
	OnProgress func(status string)
	OnResult   func(text string)
	OnFailure  func(f Failure)
	OnDone     func()
}

func (c Callbacks) progress(status string) {
	if c.OnProgress != nil {
		c.OnProgress(status)
	}
}

// Runner owns the single in-flight job slot. There is no queue: a Submit
// while a job is running is rejected, not coalesced.
type Runner struct {
	mu       sync.Mutex
	inflight bool
	cancel   context.CancelFunc
	deadline time.Duration
}

// NewRunner creates a runner. deadline <= 0 falls back to 120s.
func NewRunner(deadline time.Duration) *Runner {
	if deadline <= 0 {
		deadline = llm.DefaultTimeout
	}
	return &Runner{deadline: deadline}
}

// Busy reports whether a job is currently in flight.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inflight
}

// Submit starts one background job. Returns false when a job is already in
// flight. The callbacks are invoked from the worker goroutine.
func (r *Runner) Submit(ctx context.Context, job Job, cb Callbacks) bool {
	r.mu.Lock()
	if r.inflight {
		r.mu.Unlock()
		return false
	}

	jobCtx, cancel := context.WithTimeout(ctx, r.deadline)
	r.inflight = true
	r.cancel = cancel
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			r.inflight = false
			r.cancel = nil
			r.mu.Unlock()
			cancel()
			if cb.OnDone != nil {
				cb.OnDone()
			}
		}()
		r.run(jobCtx, job, cb)
	}()

	return true
}

// Cancel aborts the in-flight job, if any. The HTTP request is cancelled via
// its context; the job then terminates with a transport failure.
func (r *Runner) Cancel() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Runner) run(ctx context.Context, job Job, cb Callbacks) {
	start := time.Now()
	cb.progress("Processing image...")

	data := job.Data
	mime := job.MIME
	if data == nil {
		img, err := imagefile.Load(job.ImagePath)
		if err != nil {
			r.fail(cb, Failure{Kind: KindIO, Message: err.Error()})
			return
		}
		data = img.Data
		mime = img.MIME
	}

	cb.progress(fmt.Sprintf("Image loaded in %.2fs", time.Since(start).Seconds()))

	log.Printf("Dispatcher: sending %d bytes (%s) to %s via %s", len(data), mime, job.Model, job.Endpoint)
	cb.progress(fmt.Sprintf("Sending to %s", job.Model))

	text, err := llm.QueryVision(ctx, data, mime, job.Model)
	if err != nil {
		var statusErr *llm.StatusError
		if errors.As(err, &statusErr) {
			r.fail(cb, Failure{Kind: KindAPI, Message: statusErr.Body})
			return
		}
		r.fail(cb, Failure{Kind: KindTransport, Message: err.Error()})
		return
	}

	elapsed := time.Since(start).Seconds()
	log.Printf("Dispatcher: OCR completed in %.2fs, %d characters", elapsed, len(text))
	cb.progress(fmt.Sprintf("Done in %.2fs", elapsed))
	if cb.OnResult != nil {
		cb.OnResult(text)
	}
}

func (r *Runner) fail(cb Callbacks, f Failure) {
	log.Printf("Dispatcher: job failed (%s): %s", f.Kind, f.Message)
	if cb.OnFailure != nil {
		cb.OnFailure(f)
	}
}
