package config

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePersistHQ(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	store := NewStore(path)

	require.NoError(t, store.PersistHQ([NumCameras]bool{false, false, true, true}))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Cameras[0].HQEnabled)
	assert.False(t, cfg.Cameras[1].HQEnabled)
	assert.True(t, cfg.Cameras[2].HQEnabled)
	assert.True(t, cfg.Cameras[3].HQEnabled)
}

func TestStorePersistKeepsOtherSettings(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	store := NewStore(path)

	require.NoError(t, store.PersistHQ([NumCameras]bool{false, true, true, true}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(raw)
	assert.True(t, strings.Contains(content, "10.0.0.5"), "camera address must survive the rewrite")
	assert.True(t, strings.Contains(content, "admin"), "credentials must survive the rewrite")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.6", cfg.Cameras[1].IP)
	assert.True(t, cfg.Cameras[1].AudioEnabled)
}

func TestStorePersistPadsShortCameraList(t *testing.T) {
	path := writeConfig(t, "credentials:\n  username: a\n  password: b\n")
	store := NewStore(path)

	require.NoError(t, store.PersistHQ([NumCameras]bool{true, false, true, false}))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Cameras, NumCameras)
	assert.True(t, cfg.Cameras[0].HQEnabled)
	assert.False(t, cfg.Cameras[1].HQEnabled)
}

func TestStorePersistMissingFile(t *testing.T) {
	store := NewStore("/nonexistent/config.yaml")
	assert.Error(t, store.PersistHQ([NumCameras]bool{}))
}
