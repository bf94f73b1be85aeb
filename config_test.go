package pathtrace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gekko3d/pathtrace/pathrt/rt/core"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "scene: scenes/box.glb\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "scenes/box.glb", cfg.Scene)
	assert.Equal(t, BackendWgpu, cfg.Backend)
	assert.Equal(t, 1280, cfg.Window.Width)
	assert.Equal(t, 720, cfg.Window.Height)
	assert.False(t, cfg.Watch)
}

func TestLoadConfigFull(t *testing.T) {
	path := writeConfig(t, `
scene: cornell.gltf
backend: memory
debug: true
watch: true
frames: 120
window:
  width: 640
  height: 480
  headless: true
lights:
  - type: sun
    color: [1, 0.9, 0.8]
    intensity: 3
    direction: [0, -1, 0]
  - type: point
    color: [1, 1, 1]
    intensity: 50
    position: [0, 4, 0]
animations:
  - entity: fan
    axis: [0, 1, 0]
    speed: 1.5
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.True(t, cfg.Debug)
	assert.True(t, cfg.Window.Headless)
	assert.Equal(t, 120, cfg.Frames)
	require.Len(t, cfg.Animations, 1)
	assert.Equal(t, "fan", cfg.Animations[0].Entity)

	lights, err := cfg.SceneLights()
	require.NoError(t, err)
	require.Len(t, lights, 2)
	assert.Equal(t, core.LightTypeSun, lights[0].Type)
	assert.Equal(t, mgl32.Vec3{0, -1, 0}, lights[0].Direction)
	assert.Equal(t, core.LightTypePoint, lights[1].Type)
	assert.Equal(t, float32(50), lights[1].Intensity)
}

func TestLoadConfigValidation(t *testing.T) {
	path := writeConfig(t, `
backend: vulkan
window:
  width: 0
lights:
  - type: laser
animations:
  - entity: ""
    axis: [0, 0, 0]
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "vulkan")
	assert.Contains(t, msg, "window size")
	assert.Contains(t, msg, "laser")
	assert.Contains(t, msg, "entity name is empty")
	assert.Contains(t, msg, "axis is zero")
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "window: [unterminated"))
	assert.Error(t, err)
}
