package broker

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_GeneratesTokenWhenUnset(t *testing.T) {
	for _, key := range []string{"MCP_INSPECTOR_API_TOKEN", "MCP_PROXY_AUTH_TOKEN"} {
		old, had := os.LookupEnv(key)
		os.Unsetenv(key)
		key, old, had := key, old, had
		t.Cleanup(func() {
			if had {
				os.Setenv(key, old)
			}
		})
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Len(t, cfg.AuthToken, 64) // 32 bytes hex-encoded
}

func TestLoadConfig_LegacyTokenFallback(t *testing.T) {
	os.Unsetenv("MCP_INSPECTOR_API_TOKEN")
	os.Setenv("MCP_PROXY_AUTH_TOKEN", "legacy-token")
	defer os.Unsetenv("MCP_PROXY_AUTH_TOKEN")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "legacy-token", cfg.AuthToken)
}

func TestLoadConfig_DangerouslyOmitAuth(t *testing.T) {
	os.Setenv("DANGEROUSLY_OMIT_AUTH", "1")
	defer os.Unsetenv("DANGEROUSLY_OMIT_AUTH")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.DangerouslyOmitAuth)
}
