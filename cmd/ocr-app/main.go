package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"

	"image-ocr-llm/clipboard"
	"image-ocr-llm/config"
	"image-ocr-llm/gui"
	"image-ocr-llm/hotkey"
	"image-ocr-llm/llm"
	"image-ocr-llm/logutil"
	"image-ocr-llm/screenshot"
	"image-ocr-llm/shell"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logutil.Setup(cfg.EnableFileLogging)
	log.Printf("Starting Image OCR Tool, endpoint=%s, key=%s", cfg.Endpoint, logutil.RedactKey(cfg.APIKey))

	llm.Init(&llm.Config{
		APIKey:   cfg.APIKey,
		Endpoint: cfg.Endpoint,
		Model:    cfg.Model,
		Prompt:   cfg.Prompt,
		Timeout:  time.Duration(cfg.DeadlineSec) * time.Second,
	})

	a := app.New()
	w := gui.New(a)

	ctrl := shell.New(cfg, w, func(f func()) { fyne.Do(f) })
	ctrl.Capture = screenshot.CapturePrimary

	if err := clipboard.Init(); err != nil {
		log.Printf("Clipboard unavailable: %v", err)
	} else {
		ctrl.ReadClipboardImage = clipboard.ReadImage
		ctrl.ReadClipboardText = clipboard.ReadText
	}

	w.Bind(ctrl)

	if cfg.Hotkey != "" {
		hotkey.Listen(cfg.Hotkey, func() {
			ctrl.CaptureAndSubmit(context.Background())
		})
	}

	w.Show()
	ctrl.Start(context.Background())
	w.Run()
}
