package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, ":8080", v.GetString("listen"))
	assert.Equal(t, "info", v.GetString("log_level"))
	assert.False(t, v.GetBool("enable_tls"))
}

func TestSetDefaults_Storage(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, "filesystem", v.GetString("storage.backend"))
}

func TestSetDefaults_Quota(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, int64(100*1024*1024), v.GetInt64("quota.free_bytes"))
	assert.Equal(t, int64(10*1024*1024*1024), v.GetInt64("quota.pro_bytes"))
}

func TestSetDefaults_RateLimit(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, "memory", v.GetString("auth.rate_limit_store"))
}

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringP("config", "c", "", "")
	cmd.Flags().StringP("data-dir", "d", "", "")
	cmd.Flags().StringP("listen", "l", ":8080", "")
	cmd.Flags().StringP("log-level", "", "info", "")
	cmd.Flags().StringP("tls-cert", "", "", "")
	cmd.Flags().StringP("tls-key", "", "", "")
	return cmd
}

func TestLoad_RequiresDataDir(t *testing.T) {
	cmd := newTestCmd()
	_, err := Load(cmd)
	require.Error(t, err)
}

func TestLoad_DefaultsAndDerivedPaths(t *testing.T) {
	dir := t.TempDir()
	cmd := newTestCmd()
	require.NoError(t, cmd.Flags().Set("data-dir", dir))

	cfg, err := Load(cmd)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "blobs"), cfg.Storage.Root)
	assert.Equal(t, filepath.Join(dir, "blobindex"), cfg.Storage.IndexDir)
	assert.DirExists(t, cfg.Storage.Root)
	assert.NotEmpty(t, cfg.Auth.JWTSecret)
}

func TestLoad_RejectsHalfTLSConfig(t *testing.T) {
	dir := t.TempDir()
	cmd := newTestCmd()
	require.NoError(t, cmd.Flags().Set("data-dir", dir))
	require.NoError(t, cmd.Flags().Set("tls-cert", "cert.pem"))

	_, err := Load(cmd)
	require.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("ECHOPAD_LOG_LEVEL", "debug")
	defer os.Unsetenv("ECHOPAD_LOG_LEVEL")

	cmd := newTestCmd()
	require.NoError(t, cmd.Flags().Set("data-dir", dir))

	cfg, err := Load(cmd)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}
