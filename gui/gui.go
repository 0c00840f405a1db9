package gui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"

	"image-ocr-llm/clipboard"
	"image-ocr-llm/imagefile"
	"image-ocr-llm/shell"
)

var imageExts = []string{".png", ".jpg", ".jpeg", ".bmp", ".gif"}

// Window is the main application window. It implements shell.View; the
// controller drives every widget update through it.
type Window struct {
	app  fyne.App
	win  fyne.Window
	ctrl *shell.Controller

	image       *canvas.Image
	placeholder *widget.Label
	info        *widget.Label
	runBtn      *widget.Button
	stopBtn     *widget.Button
	modelSelect *widget.Select
	result      *widget.Entry
	status      *widget.Label
}

func New(a fyne.App) *Window {
	w := &Window{app: a}
	w.win = a.NewWindow("Image OCR Tool")
	w.buildWidgets()
	w.win.Resize(fyne.NewSize(600, 640))
	return w
}

func (w *Window) buildWidgets() {
	w.image = &canvas.Image{FillMode: canvas.ImageFillContain}
	w.image.SetMinSize(fyne.NewSize(560, 250))

	w.placeholder = widget.NewLabel("Select an image, drag & drop here,\nor paste from clipboard")
	w.placeholder.Alignment = fyne.TextAlignCenter

	w.info = widget.NewLabel("No image loaded")
	w.info.Alignment = fyne.TextAlignCenter
	w.info.Wrapping = fyne.TextWrapWord

	w.runBtn = widget.NewButton("Run OCR", func() {
		if w.ctrl != nil {
			w.ctrl.Submit(context.Background())
		}
	})
	w.runBtn.Importance = widget.HighImportance

	w.stopBtn = widget.NewButton("Stop", func() {
		if w.ctrl != nil {
			w.ctrl.Cancel()
		}
	})
	w.stopBtn.Disable()

	w.modelSelect = widget.NewSelect([]string{}, func(name string) {
		if w.ctrl != nil {
			w.ctrl.SetModel(name)
		}
	})
	w.modelSelect.PlaceHolder = "Loading models..."

	w.result = widget.NewMultiLineEntry()
	w.result.Wrapping = fyne.TextWrapWord
	w.result.SetPlaceHolder("Extracted text appears here")

	w.status = widget.NewLabel("Ready")

	selectBtn := widget.NewButton("Select Image...", w.openFileDialog)
	captureBtn := widget.NewButton("Capture Screen", func() {
		if w.ctrl != nil {
			w.ctrl.CaptureScreen()
		}
	})
	copyBtn := widget.NewButton("Copy", func() {
		if err := clipboard.Write(w.result.Text); err == nil {
			w.SetStatus("Result copied to clipboard", false)
		}
	})

	top := container.NewVBox(
		container.NewStack(w.image, w.placeholder),
		w.info,
		container.NewGridWithColumns(2, selectBtn, captureBtn),
		container.NewGridWithColumns(2, w.runBtn, w.stopBtn),
		w.modelSelect,
		container.NewBorder(nil, nil, widget.NewLabel("Extracted Text:"), copyBtn),
	)

	w.win.SetContent(container.NewBorder(top, w.status, nil, nil, w.result))
}

// Bind attaches the controller and wires the input paths that need it.
func (w *Window) Bind(ctrl *shell.Controller) {
	w.ctrl = ctrl

	w.win.SetOnDropped(func(_ fyne.Position, uris []fyne.URI) {
		for _, u := range uris {
			if imagefile.AllowedExt(u.Path()) {
				ctrl.Drop(u.Path())
				return
			}
		}
	})

	pasteShortcut := &desktop.CustomShortcut{KeyName: fyne.KeyV, Modifier: fyne.KeyModifierControl}
	w.win.Canvas().AddShortcut(pasteShortcut, func(fyne.Shortcut) {
		ctrl.Paste()
	})

	if desk, ok := w.app.(desktop.App); ok {
		desk.SetSystemTrayMenu(fyne.NewMenu("Image OCR Tool",
			fyne.NewMenuItem("Capture Screen", func() {
				ctrl.CaptureAndSubmit(context.Background())
			}),
			fyne.NewMenuItem("Quit", func() {
				w.app.Quit()
			}),
		))
	}
}

func (w *Window) openFileDialog() {
	fd := dialog.NewFileOpen(func(rc fyne.URIReadCloser, err error) {
		if err != nil || rc == nil {
			return
		}
		path := rc.URI().Path()
		_ = rc.Close()
		if w.ctrl != nil {
			w.ctrl.SelectImage(path)
		}
	}, w.win)
	fd.SetFilter(storage.NewExtensionFileFilter(imageExts))
	fd.Show()
}

// Show displays the window; Run enters the event loop.
func (w *Window) Show() { w.win.Show() }
func (w *Window) Run()  { w.app.Run() }

// shell.View implementation. All of these are invoked on the UI thread.

func (w *Window) SetStatus(text string, isError bool) {
	if isError {
		w.status.Importance = widget.DangerImportance
	} else {
		w.status.Importance = widget.MediumImportance
	}
	w.status.SetText(text)
}

func (w *Window) ShowWarning(msg string) {
	dialog.ShowInformation("Warning", msg, w.win)
}

func (w *Window) ShowError(msg string) {
	dialog.ShowError(errors.New(msg), w.win)
}

func (w *Window) SetResult(text string) {
	w.result.SetText(text)
}

func (w *Window) SetModels(models []string, selected string) {
	w.modelSelect.Options = models
	w.modelSelect.Refresh()
	if selected != "" {
		w.modelSelect.SetSelected(selected)
	}
}

func (w *Window) SetImage(path string, data []byte) {
	switch {
	case path != "":
		w.image.Resource = nil
		w.image.File = path
		w.info.SetText(filepath.Base(path))
	case data != nil:
		w.image.File = ""
		w.image.Resource = fyne.NewStaticResource("pasted-image", data)
		w.info.SetText(fmt.Sprintf("pasted image (%d bytes)", len(data)))
	default:
		return
	}
	w.placeholder.Hide()
	w.image.Refresh()
}

func (w *Window) SetBusy(busy bool) {
	if busy {
		w.runBtn.Disable()
		w.stopBtn.Enable()
	} else {
		w.runBtn.Enable()
		w.stopBtn.Disable()
	}
}
