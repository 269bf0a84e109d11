package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	HTTPAddr     string
	DataDir      string
	DBPath       string
	WorkspaceDir string

	Provider        string
	Model           string
	APIKey          string
	BaseURL         string
	MaxOutputTokens int
	ContextWindow   int
	MistakeLimit    int

	// AutoApprove skips the interactive approval gate for every tool. Meant
	// for headless runs against throwaway workspaces.
	AutoApprove bool
}

func Load() Config {
	loadDotEnv(".env")
	dataDir := getEnv("CODEY_DATA_DIR", "data")
	return Config{
		HTTPAddr:     getEnv("CODEY_HTTP_ADDR", ":8080"),
		DataDir:      dataDir,
		DBPath:       getEnv("CODEY_DB_PATH", filepath.Join(dataDir, "codey.db")),
		WorkspaceDir: getEnv("CODEY_WORKSPACE_DIR", "."),

		Provider:        getEnv("CODEY_PROVIDER", "anthropic"),
		Model:           getEnv("CODEY_MODEL", ""),
		APIKey:          getEnv("CODEY_API_KEY", ""),
		BaseURL:         getEnv("CODEY_BASE_URL", ""),
		MaxOutputTokens: getEnvInt("CODEY_MAX_OUTPUT_TOKENS", 8192),
		ContextWindow:   getEnvInt("CODEY_CONTEXT_WINDOW", 200000),
		MistakeLimit:    getEnvInt("CODEY_MISTAKE_LIMIT", 3),

		AutoApprove: getEnvBool("CODEY_AUTO_APPROVE", false),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
}
