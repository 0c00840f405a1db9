package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIKeyPath = "/run/secrets/api_keys/ocr"
	APIKeyPathEnvVar  = "OCR_API_KEY_FILE"

	// DefaultEndpoint is the vision chat-completions endpoint used when
	// API_URL is not set.
	DefaultEndpoint = "https://api.groq.com/openai/v1/chat/completions"

	// DefaultCatalogBaseURL is the base URL of the model-listing server.
	DefaultCatalogBaseURL = "http://localhost:11434"

	DefaultModel       = "llama-3.2-11b-vision-preview"
	DefaultDeadlineSec = 120

	settingsFileName = "settings.yaml"
)

type LoadOptions struct {
	APIKeyPathOverride string
}

type Config struct {
	APIKey            string
	APIKeyPath        string
	Endpoint          string
	CatalogBaseURL    string
	Model             string
	PreferredModel    string
	Prompt            string
	Hotkey            string
	EnableFileLogging bool
	DeadlineSec       int
}

// settings holds optional user preferences loaded from settings.yaml next
// to the .env file. Values fill only fields the environment left unset.
type settings struct {
	PreferredModel  string `yaml:"preferred_model"`
	Prompt          string `yaml:"prompt"`
	DeadlineSeconds int    `yaml:"deadline_seconds"`
}

func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

func LoadWithOptions(opts LoadOptions) (*Config, error) {
	// Configuration sources in priority order:
	// 1) .env in the application (executable) directory
	// 2) If not found, use IMAGE_OCR_LLM env var as a path to a config file
	envPath := resolveEnvPath()
	dotenvValues := readDotenvValues(envPath)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	}

	deadlineSec := DefaultDeadlineSec
	if v := os.Getenv("OCR_DEADLINE_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			deadlineSec = n
		}
	}

	apiKeyPath := resolveAPIKeyPath(opts, dotenvValues)

	cfg := &Config{
		APIKey:            resolveAPIKey(apiKeyPath),
		APIKeyPath:        apiKeyPath,
		Endpoint:          getEnvWithDefault("API_URL", DefaultEndpoint),
		CatalogBaseURL:    getEnvWithDefault("CATALOG_BASE_URL", DefaultCatalogBaseURL),
		Model:             getEnvWithDefault("MODEL", DefaultModel),
		PreferredModel:    os.Getenv("PREFERRED_MODEL"),
		Hotkey:            os.Getenv("HOTKEY"),
		EnableFileLogging: strings.ToLower(os.Getenv("ENABLE_FILE_LOGGING")) == "true",
		DeadlineSec:       deadlineSec,
	}

	applySettings(cfg, envPath)

	return cfg, nil
}

func resolveEnvPath() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}

	execDir := filepath.Dir(execPath)
	exeEnv := filepath.Join(execDir, ".env")
	if _, err := os.Stat(exeEnv); err == nil {
		return exeEnv
	}

	if alt := os.Getenv("IMAGE_OCR_LLM"); alt != "" {
		if _, err := os.Stat(alt); err == nil {
			return alt
		}
	}

	return ""
}

func readDotenvValues(envPath string) map[string]string {
	if envPath == "" {
		return map[string]string{}
	}

	values, err := godotenv.Read(envPath)
	if err != nil {
		return map[string]string{}
	}

	return values
}

func resolveAPIKeyPath(opts LoadOptions, dotenvValues map[string]string) string {
	keyPath := DefaultAPIKeyPath

	if envPath := strings.TrimSpace(os.Getenv(APIKeyPathEnvVar)); envPath != "" {
		keyPath = envPath
	}

	if dotenvPath := strings.TrimSpace(dotenvValues[APIKeyPathEnvVar]); dotenvPath != "" {
		keyPath = dotenvPath
	}

	if overridePath := strings.TrimSpace(opts.APIKeyPathOverride); overridePath != "" {
		keyPath = overridePath
	}

	return keyPath
}

func resolveAPIKey(keyPath string) string {
	if data, err := os.ReadFile(keyPath); err == nil {
		if fileKey := strings.TrimSpace(string(data)); fileKey != "" {
			return fileKey
		}
	}

	return os.Getenv("OCR_API_KEY")
}

// applySettings overlays settings.yaml values onto fields the environment
// did not set. Missing or malformed settings files are ignored.
func applySettings(cfg *Config, envPath string) {
	path := settingsPath(envPath)
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var s settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return
	}

	if cfg.PreferredModel == "" {
		cfg.PreferredModel = strings.TrimSpace(s.PreferredModel)
	}
	if cfg.Prompt == "" {
		cfg.Prompt = strings.TrimSpace(s.Prompt)
	}
	if os.Getenv("OCR_DEADLINE_SEC") == "" && s.DeadlineSeconds > 0 {
		cfg.DeadlineSec = s.DeadlineSeconds
	}
}

func settingsPath(envPath string) string {
	if alt := os.Getenv("IMAGE_OCR_SETTINGS"); alt != "" {
		return alt
	}
	if envPath != "" {
		return filepath.Join(filepath.Dir(envPath), settingsFileName)
	}
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Join(filepath.Dir(execPath), settingsFileName)
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
