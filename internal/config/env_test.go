package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnv(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadEnvFile_missing(t *testing.T) {
	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "nonexistent")))
}

func TestLoadEnvFile_setsEnv(t *testing.T) {
	os.Unsetenv("IPTV_GUIDE_T_FOO")
	os.Unsetenv("IPTV_GUIDE_T_BAZ")
	t.Cleanup(func() {
		os.Unsetenv("IPTV_GUIDE_T_FOO")
		os.Unsetenv("IPTV_GUIDE_T_BAZ")
	})
	path := writeEnv(t, "IPTV_GUIDE_T_FOO=bar\n# comment\nexport IPTV_GUIDE_T_BAZ=quux # trailing\nnot a pair\n=nokey\n")
	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "bar", os.Getenv("IPTV_GUIDE_T_FOO"))
	assert.Equal(t, "quux", os.Getenv("IPTV_GUIDE_T_BAZ"))
}

func TestLoadEnvFile_environmentWins(t *testing.T) {
	t.Setenv("IPTV_GUIDE_T_KEEP", "from-env")
	path := writeEnv(t, "IPTV_GUIDE_T_KEEP=from-file\n")
	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-env", os.Getenv("IPTV_GUIDE_T_KEEP"))
}

func TestParseEnvLine(t *testing.T) {
	tests := []struct {
		line       string
		key, value string
		ok         bool
	}{
		{`X="hello world"`, "X", "hello world", true},
		{`X='a # b'`, "X", "a # b", true},
		{`  Y = spaced  `, "Y", "spaced", true},
		{`URL=http://h/p?a=b`, "URL", "http://h/p?a=b", true},
		{`# X=1`, "", "", false},
		{``, "", "", false},
		{`novalue`, "", "", false},
	}
	for _, tt := range tests {
		k, v, ok := parseEnvLine(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		assert.Equal(t, tt.key, k, tt.line)
		assert.Equal(t, tt.value, v, tt.line)
	}
}
