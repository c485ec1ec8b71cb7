package broker

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is the broker's environment-driven configuration (§6.3). It is
// parsed once at process start; nothing in the broker re-reads the
// environment after this.
type Config struct {
	Addr string

	AuthToken        string
	DangerouslyOmitAuth bool
	AllowedOrigins   []string

	StorageDir string
	QueueSize  int
	LogLevel   string

	InitialCommand     string
	InitialArgs        []string
	InitialTransport   string
	InitialServerURL   string
	InitialEnvironment map[string]string
	SandboxURL         string
}

// LoadConfig reads Config from the process environment, applying the
// defaults and legacy-variable fallbacks named in §6.3.
func LoadConfig() (Config, error) {
	cfg := Config{
		Addr:       getenvDefault("MCP_BROKER_ADDR", "127.0.0.1:6277"),
		StorageDir: getenvDefault("MCP_STORAGE_DIR", defaultStorageDir()),
		QueueSize:  DefaultQueueSize,
		LogLevel:   getenvDefault("MCP_BROKER_LOG_LEVEL", "info"),

		InitialCommand:   os.Getenv("MCP_INITIAL_COMMAND"),
		InitialTransport: os.Getenv("MCP_INITIAL_TRANSPORT"),
		InitialServerURL: os.Getenv("MCP_INITIAL_SERVER_URL"),
		SandboxURL:       os.Getenv("MCP_SANDBOX_URL"),
	}

	if v := os.Getenv("MCP_BROKER_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.QueueSize = n
		}
	}

	if v := os.Getenv("MCP_INITIAL_ARGS"); v != "" {
		cfg.InitialArgs = strings.Fields(v)
	}

	if v := os.Getenv("MCP_ENV_VARS"); v != "" {
		env := map[string]string{}
		if err := json.Unmarshal([]byte(v), &env); err == nil {
			cfg.InitialEnvironment = env
		}
	}
	if cfg.InitialEnvironment == nil {
		cfg.InitialEnvironment = map[string]string{}
	}

	cfg.DangerouslyOmitAuth = os.Getenv("DANGEROUSLY_OMIT_AUTH") != ""

	cfg.AuthToken = os.Getenv("MCP_INSPECTOR_API_TOKEN")
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("MCP_PROXY_AUTH_TOKEN") // legacy fallback
	}
	if cfg.AuthToken == "" {
		token, err := randomHexToken(32)
		if err != nil {
			return Config{}, err
		}
		cfg.AuthToken = token
	}

	if origins := os.Getenv("MCP_ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".mcp-inspector", "storage")
}

func randomHexToken(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// InitialConfigDocument is the shape returned by GET /api/config.
type InitialConfigDocument struct {
	DefaultCommand     string            `json:"defaultCommand,omitempty"`
	DefaultArgs        []string          `json:"defaultArgs,omitempty"`
	DefaultTransport   string            `json:"defaultTransport,omitempty"`
	DefaultServerURL   string            `json:"defaultServerUrl,omitempty"`
	DefaultEnvironment map[string]string `json:"defaultEnvironment"`
	SandboxURL         string            `json:"sandboxUrl,omitempty"`
}

// InitialConfig assembles the GET /api/config response document from cfg.
func (cfg Config) InitialConfig() InitialConfigDocument {
	return InitialConfigDocument{
		DefaultCommand:     cfg.InitialCommand,
		DefaultArgs:        cfg.InitialArgs,
		DefaultTransport:   cfg.InitialTransport,
		DefaultServerURL:   cfg.InitialServerURL,
		DefaultEnvironment: cfg.InitialEnvironment,
		SandboxURL:         cfg.SandboxURL,
	}
}
