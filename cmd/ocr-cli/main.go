package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"image-ocr-llm/catalog"
	"image-ocr-llm/config"
	"image-ocr-llm/imagefile"
	"image-ocr-llm/llm"
	"image-ocr-llm/logutil"
)

type cliOptions struct {
	filePath   string
	model      string
	jsonOutput bool
	verbose    bool
	apiKeyPath string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return runWithArgs(os.Args)
}

func runWithArgs(args []string) error {
	if len(args) == 0 {
		args = []string{"ocr-cli"}
	}

	opts := &cliOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args[1:])
	return cmd.Execute()
}

func newRootCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ocr-cli",
		Short:         "Extract text from an image via a remote vision model",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOCR(*opts)
		},
	}

	cmd.Flags().StringVar(&opts.filePath, "file", "", "Path to image file (use '-' for stdin)")
	cmd.Flags().StringVar(&opts.model, "model", "", "Model name (defaults to MODEL from config)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output to stderr")
	cmd.Flags().StringVar(&opts.apiKeyPath, "api-key-path", "", "Path to API key file (highest precedence)")
	_ = cmd.MarkFlagRequired("file")

	cmd.AddCommand(newModelsCmd(opts))

	return cmd
}

func newModelsCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models offered by the catalog server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			models, err := catalog.Fetch(cmd.Context(), cfg.CatalogBaseURL)
			if err != nil {
				return err
			}
			for _, m := range models {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
}

func runOCR(opts cliOptions) error {
	// Configure logging BEFORE any other operations.
	if opts.verbose {
		logutil.SetupStderr()
		fmt.Fprintf(os.Stderr, "[verbose] Starting OCR\n")
	} else {
		log.SetOutput(io.Discard)
	}

	cfg, err := config.LoadWithOptions(config.LoadOptions{APIKeyPathOverride: opts.apiKeyPath})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if opts.verbose {
		fmt.Fprintf(os.Stderr, "[verbose] Config loaded: Model=%s Endpoint=%s\n", cfg.Model, cfg.Endpoint)
		fmt.Fprintf(os.Stderr, "[verbose] Effective API key path: %s\n", cfg.APIKeyPath)
	}

	if cfg.APIKey == "" {
		return fmt.Errorf("API key not found. Checked key file %s and OCR_API_KEY env var", cfg.APIKeyPath)
	}

	llm.Init(&llm.Config{
		APIKey:   cfg.APIKey,
		Endpoint: cfg.Endpoint,
		Model:    cfg.Model,
		Prompt:   cfg.Prompt,
		Timeout:  time.Duration(cfg.DeadlineSec) * time.Second,
	})

	img, err := loadInput(opts.filePath, opts.verbose)
	if err != nil {
		return err
	}

	if opts.verbose {
		fmt.Fprintf(os.Stderr, "[verbose] Read %d bytes (%s)\n", len(img.Data), img.MIME)
	}

	startTime := time.Now()
	text, err := llm.QueryVision(context.Background(), img.Data, img.MIME, opts.model)
	elapsed := time.Since(startTime)

	if err != nil {
		if opts.verbose {
			fmt.Fprintf(os.Stderr, "[verbose] OCR failed after %v: %v\n", elapsed, err)
		}
		return fmt.Errorf("OCR failed: %w", err)
	}

	if opts.verbose {
		fmt.Fprintf(os.Stderr, "[verbose] OCR completed in %v, extracted %d characters\n", elapsed, len(text))
	}

	return outputResult(text, opts.filePath, elapsed, opts.jsonOutput)
}

func loadInput(filePath string, verbose bool) (*imagefile.Image, error) {
	if filePath == "-" {
		if verbose {
			fmt.Fprintf(os.Stderr, "[verbose] Reading image from stdin\n")
		}
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return imagefile.FromBytes(data)
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "[verbose] Reading image from file: %s\n", filePath)
	}
	return imagefile.Load(filePath)
}

type OCRResult struct {
	Text      string  `json:"text"`
	Source    string  `json:"source"`
	Timestamp string  `json:"timestamp"`
	Duration  float64 `json:"duration_seconds"`
	CharCount int     `json:"character_count"`
}

func outputResult(text, sourcePath string, elapsed time.Duration, jsonOutput bool) error {
	if !jsonOutput {
		fmt.Print(text)
		if !strings.HasSuffix(text, "\n") {
			fmt.Println()
		}
		return nil
	}

	result := OCRResult{
		Text:      text,
		Source:    sourcePath,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Duration:  elapsed.Seconds(),
		CharCount: len(text),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
