package shell

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"image-ocr-llm/catalog"
	"image-ocr-llm/config"
	"image-ocr-llm/dispatcher"
	"image-ocr-llm/imagefile"
)

// State of the presentation shell.
type State string

const (
	StateIdle                    State = "idle"
	StateAwaitingConnectionCheck State = "awaiting-connection-check"
	StateReady                   State = "ready"
	StateSubmitting              State = "submitting"
)

// View is the rendering surface the controller drives. Implementations own
// widget state; all calls arrive on the UI thread via the post function given
// to New.
type View interface {
	SetStatus(text string, isError bool)
	ShowWarning(msg string)
	ShowError(msg string)
	SetResult(text string)
	SetModels(models []string, selected string)
	SetImage(path string, data []byte)
	SetBusy(busy bool)
}

// Controller is the presentation state machine. It owns the selected image,
// the model catalog and the single in-flight job slot; the View stays dumb.
type Controller struct {
	view      View
	post      func(func())
	cfg       *config.Config
	runner    *dispatcher.Runner
	refresher catalog.Refresher

	// Optional image-source hooks, wired by the app entry point. Nil hooks
	// disable the corresponding source.
	ReadClipboardImage func() ([]byte, bool)
	ReadClipboardText  func() (string, bool)
	Capture            func() ([]byte, error)

	mu        sync.Mutex
	state     State
	models    []string
	model     string
	imagePath string
	imageData []byte
	imageMIME string
}

// New creates a controller. post marshals View calls onto the UI thread; nil
// means direct invocation (tests, CLI).
func New(cfg *config.Config, view View, post func(func())) *Controller {
	if post == nil {
		post = func(f func()) { f() }
	}
	return &Controller{
		view:   view,
		post:   post,
		cfg:    cfg,
		runner: dispatcher.NewRunner(time.Duration(cfg.DeadlineSec) * time.Second),
		state:  StateIdle,
		model:  cfg.Model,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Start asynchronously refreshes the model catalog and moves the shell to
// Ready. A failed refresh leaves the default model usable.
func (c *Controller) Start(ctx context.Context) {
	c.setState(StateAwaitingConnectionCheck)
	c.post(func() { c.view.SetStatus("Connecting...", false) })

	go func() {
		models, err := c.refresher.Refresh(ctx, c.cfg.CatalogBaseURL)
		if err != nil {
			log.Printf("Shell: model listing failed: %v", err)
			c.setState(StateReady)
			c.post(func() { c.view.SetStatus(fmt.Sprintf("Error: %v", err), true) })
			return
		}

		c.mu.Lock()
		c.models = models
		if picked, ok := catalog.Pick(models, c.cfg.PreferredModel); ok {
			c.model = picked
		}
		selected := c.model
		c.state = StateReady
		c.mu.Unlock()

		log.Printf("Shell: %d models available, selected %q", len(models), selected)
		c.post(func() {
			c.view.SetModels(models, selected)
			c.view.SetStatus(fmt.Sprintf("Connected | %d models", len(models)), false)
		})
	}()
}

// SetModel records the dropdown selection.
func (c *Controller) SetModel(name string) {
	c.mu.Lock()
	c.model = name
	c.mu.Unlock()
}

func (c *Controller) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// SelectImage accepts a file path from the picker, a drop or a pasted path.
// Only the extension is validated here; readability is the dispatcher's
// problem at submit time.
func (c *Controller) SelectImage(path string) {
	if !imagefile.AllowedExt(path) {
		c.post(func() {
			c.view.SetStatus(fmt.Sprintf("Unsupported file type: %s", filepath.Base(path)), true)
		})
		return
	}

	c.mu.Lock()
	c.imagePath = path
	c.imageData = nil
	c.imageMIME = ""
	c.mu.Unlock()

	log.Printf("Shell: selected image %s", path)
	c.post(func() {
		c.view.SetImage(path, nil)
		c.view.SetStatus(fmt.Sprintf("Loaded: %s", filepath.Base(path)), false)
	})
}

// SelectBitmap accepts raw image bytes from the clipboard or a screen
// capture. source labels the origin in the status line.
func (c *Controller) SelectBitmap(data []byte, source string) {
	img, err := imagefile.FromBytes(data)
	if err != nil {
		c.post(func() { c.view.SetStatus(fmt.Sprintf("Error: %v", err), true) })
		return
	}

	c.mu.Lock()
	c.imagePath = ""
	c.imageData = img.Data
	c.imageMIME = img.MIME
	c.mu.Unlock()

	log.Printf("Shell: loaded %d-byte %s image from %s", len(img.Data), img.MIME, source)
	c.post(func() {
		c.view.SetImage("", img.Data)
		c.view.SetStatus(fmt.Sprintf("Loaded: %s", source), false)
	})
}

// Paste pulls an image from the clipboard: a bitmap wins, a file path is the
// fallback. Both converge on the same selection paths.
func (c *Controller) Paste() {
	if c.ReadClipboardImage != nil {
		if data, ok := c.ReadClipboardImage(); ok {
			c.SelectBitmap(data, "clipboard image")
			return
		}
	}
	if c.ReadClipboardText != nil {
		if text, ok := c.ReadClipboardText(); ok && imagefile.AllowedExt(text) {
			c.SelectImage(text)
		}
	}
}

// Drop accepts a dropped file path; non-image drops are ignored.
func (c *Controller) Drop(path string) {
	if !imagefile.AllowedExt(path) {
		log.Printf("Shell: ignoring dropped file %s", path)
		return
	}
	c.SelectImage(path)
}

// CaptureScreen grabs the primary display and selects it as the image.
func (c *Controller) CaptureScreen() {
	if c.Capture == nil {
		return
	}
	data, err := c.Capture()
	if err != nil {
		c.post(func() { c.view.SetStatus(fmt.Sprintf("Capture failed: %v", err), true) })
		return
	}
	c.SelectBitmap(data, "screen capture")
}

// Submit hands one job to the dispatcher. Guarded: warns and changes nothing
// when no image or model is selected; silently rejected while a job is in
// flight (the trigger control is disabled then anyway).
func (c *Controller) Submit(ctx context.Context) {
	c.mu.Lock()
	path, data, mime, model := c.imagePath, c.imageData, c.imageMIME, c.model
	busy := c.state == StateSubmitting
	c.mu.Unlock()

	if busy || c.runner.Busy() {
		log.Printf("Shell: submit rejected, job in flight")
		return
	}

	if path == "" && data == nil {
		c.post(func() {
			c.view.SetStatus("No image selected", true)
			c.view.ShowWarning("Please select an image first")
		})
		return
	}
	if model == "" {
		c.post(func() {
			c.view.SetStatus("No model selected", true)
			c.view.ShowWarning("Please select a model first")
		})
		return
	}

	c.setState(StateSubmitting)
	c.post(func() {
		c.view.SetBusy(true)
		c.view.SetResult("")
		c.view.SetStatus("Processing...", false)
	})

	job := dispatcher.Job{
		ImagePath: path,
		Data:      data,
		MIME:      mime,
		Model:     model,
		Endpoint:  c.cfg.Endpoint,
	}

	submitted := c.runner.Submit(ctx, job, dispatcher.Callbacks{
		OnProgress: func(status string) {
			c.post(func() { c.view.SetStatus(status, false) })
		},
		OnResult: func(text string) {
			c.post(func() { c.view.SetResult(text) })
		},
		OnFailure: func(f dispatcher.Failure) {
			c.post(func() {
				c.view.ShowError(f.Message)
				c.view.SetStatus("Error occurred", true)
			})
		},
		OnDone: func() {
			c.setState(StateReady)
			c.post(func() { c.view.SetBusy(false) })
		},
	})

	if !submitted {
		// lost the race against another submit; restore the trigger
		c.setState(StateReady)
		c.post(func() { c.view.SetBusy(false) })
	}
}

// CaptureAndSubmit is the global-hotkey flow: grab the screen, then run OCR.
func (c *Controller) CaptureAndSubmit(ctx context.Context) {
	c.CaptureScreen()
	c.Submit(ctx)
}

// Cancel aborts the in-flight job, if any. Cancellation is real: the HTTP
// request is torn down and the job ends with a transport failure.
func (c *Controller) Cancel() {
	c.runner.Cancel()
}
