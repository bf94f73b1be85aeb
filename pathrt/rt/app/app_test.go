package app

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gekko3d/pathtrace"
	"github.com/gekko3d/pathtrace/pathrt/rt/core"
	"github.com/gekko3d/pathtrace/pathrt/rt/gpu"
	"github.com/gekko3d/pathtrace/pathrt/rt/scene"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfilerScopes(t *testing.T) {
	p := NewProfiler()
	clock := time.Unix(0, 0)
	p.now = func() time.Time { return clock }

	p.BeginScope("build")
	clock = clock.Add(4 * time.Millisecond)
	p.EndScope("build")

	p.BeginScope("build")
	clock = clock.Add(2 * time.Millisecond)
	p.EndScope("build")

	require.NoError(t, p.Scope("update", func() error {
		clock = clock.Add(time.Millisecond)
		return nil
	}))

	assert.Equal(t, []string{"build", "update"}, p.Order)
	assert.Equal(t, 2*time.Millisecond, p.Last["build"])
	assert.Equal(t, 3*time.Millisecond, p.Average("build"))
	assert.Equal(t, 2, p.Calls["build"])
	assert.Equal(t, time.Duration(0), p.Average("missing"))

	// An unmatched end is ignored.
	p.EndScope("never")
	assert.NotContains(t, p.Calls, "never")

	p.SetCount("entities", 3)
	stats := p.GetStatsString()
	assert.Contains(t, stats, "build")
	assert.Contains(t, stats, "entities")

	p.Reset()
	assert.Equal(t, time.Duration(0), p.Last["build"])
	assert.Equal(t, 2, p.Calls["build"])
}

func TestProfilerScopeReturnsError(t *testing.T) {
	p := NewProfiler()
	err := p.Scope("import", func() error { return os.ErrNotExist })
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, 1, p.Calls["import"])
}

func triangleEntity(name string) *core.Entity {
	mesh := core.Mesh{
		Positions: []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		Indices:   []uint32{0, 1, 2},
	}
	return core.NewEntity(name, mesh, core.DefaultMaterial())
}

func TestAnimatorSpinsMatchingEntities(t *testing.T) {
	s := scene.NewScene(gpu.NewMemoryBackend(), nil)
	fan := triangleEntity("fan/blades#0")
	fan.Transform = mgl32.Translate3D(0, 2, 0)
	_, err := s.AddEntity(fan)
	require.NoError(t, err)
	_, err = s.AddEntity(triangleEntity("fanfare/mesh#0"))
	require.NoError(t, err)

	an := NewAnimator([]pathtrace.AnimationConfig{
		{Entity: "fan", Axis: [3]float32{0, 2, 0}, Speed: math.Pi / 2},
		{Entity: "ghost", Axis: [3]float32{1, 0, 0}, Speed: 1},
	})
	log := &captureLogger{}
	assert.Equal(t, 1, an.Bind(s, log))
	assert.Contains(t, strings.Join(log.warnings, "\n"), "ghost")

	changed, err := an.Advance(s, 1)
	require.NoError(t, err)
	assert.True(t, changed)

	want := mgl32.Translate3D(0, 2, 0).Mul4(mgl32.HomogRotate3DY(math.Pi / 2))
	assert.True(t, s.Entity(0).Transform.ApproxEqualThreshold(want, 1e-5))
	assert.Equal(t, mgl32.Ident4(), s.Entity(1).Transform)
}

func TestAnimatorWithoutTargets(t *testing.T) {
	s := scene.NewScene(gpu.NewMemoryBackend(), nil)
	an := NewAnimator(nil)
	assert.Equal(t, 0, an.Bind(s, nil))

	changed, err := an.Advance(s, 1)
	require.NoError(t, err)
	assert.False(t, changed)
}

type captureLogger struct {
	warnings []string
}

func (l *captureLogger) DebugEnabled() bool    { return false }
func (l *captureLogger) SetDebug(bool)         {}
func (l *captureLogger) Debugf(string, ...any) {}
func (l *captureLogger) Infof(string, ...any)  {}
func (l *captureLogger) Warnf(format string, args ...any) {
	l.warnings = append(l.warnings, fmt.Sprintf(format, args...))
}
func (l *captureLogger) Errorf(format string, args ...any) {
	l.warnings = append(l.warnings, fmt.Sprintf(format, args...))
}

// writeScene writes a one-triangle glTF with an emissive material under the
// node "lamp".
func writeScene(t *testing.T, dir string) string {
	t.Helper()
	bin := make([]byte, 0, 40)
	for _, v := range []float32{0, 0, 0, 1, 0, 0, 0, 1, 0} {
		bin = binary.LittleEndian.AppendUint32(bin, math.Float32bits(v))
	}
	bin = append(bin, 0, 1, 2, 0)
	uri := "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(bin)

	doc := fmt.Sprintf(`{
  "asset": {"version": "2.0"},
  "scenes": [{"nodes": [0]}],
  "nodes": [{"name": "lamp", "mesh": 0}],
  "meshes": [{"name": "panel", "primitives": [{"attributes": {"POSITION": 0}, "indices": 1, "material": 0}]}],
  "materials": [{"name": "glow", "emissiveFactor": [1, 1, 1]}],
  "accessors": [
    {"bufferView": 0, "componentType": 5126, "count": 3, "type": "VEC3", "min": [0,0,0], "max": [1,1,0]},
    {"bufferView": 1, "componentType": 5121, "count": 3, "type": "SCALAR"}
  ],
  "bufferViews": [
    {"buffer": 0, "byteOffset": 0, "byteLength": 36},
    {"buffer": 0, "byteOffset": 36, "byteLength": 3}
  ],
  "buffers": [{"byteLength": %d, "uri": %q}]
}`, len(bin), uri)

	path := filepath.Join(dir, "scene.gltf")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func headlessApp(t *testing.T, path string) (*App, *gpu.MemoryBackend) {
	t.Helper()
	cfg := pathtrace.DefaultConfig()
	cfg.Backend = pathtrace.BackendMemory
	cfg.Scene = path
	cfg.Lights = []pathtrace.LightConfig{{Type: "sun", Color: [3]float32{1, 1, 1}, Intensity: 2, Direction: [3]float32{0, -1, 0}}}
	cfg.Animations = []pathtrace.AnimationConfig{{Entity: "lamp", Axis: [3]float32{0, 1, 0}, Speed: 1}}

	a := NewApp(cfg, nil)
	require.NoError(t, a.Init())
	t.Cleanup(a.Release)
	return a, a.Backend.(*gpu.MemoryBackend)
}

func TestAppLoadsSceneHeadless(t *testing.T) {
	a, mem := headlessApp(t, writeScene(t, t.TempDir()))

	assert.Equal(t, 1, a.Scene.EntityCount())
	assert.Equal(t, 1, a.Scene.EmissiveTriangleCount())
	require.NotNil(t, a.Scene.TLAS())
	assert.Len(t, a.Scene.Lights(), 1)
	assert.Equal(t, 1, mem.Stats.TLASBuilds)
	assert.Equal(t, 1, a.Profiler.Counts["animated"])
	assert.Equal(t, 1, a.Profiler.Calls["build"])
	assert.Contains(t, a.StatsLine(), "1 entities")
}

func TestAppStepRefitsInsteadOfRebuilding(t *testing.T) {
	a, mem := headlessApp(t, writeScene(t, t.TempDir()))
	uploads := mem.Stats.Uploads
	materials := append([]byte(nil), a.Scene.MaterialsBuffer().(*gpu.MemoryBuffer).Bytes()...)

	require.NoError(t, a.Step(0.25))
	require.NoError(t, a.Step(0.25))

	assert.Equal(t, 1, mem.Stats.TLASBuilds)
	assert.Equal(t, 2, mem.Stats.InstanceUpdates)
	assert.Equal(t, uploads, mem.Stats.Uploads)
	assert.Equal(t, materials, a.Scene.MaterialsBuffer().(*gpu.MemoryBuffer).Bytes())
	assert.Equal(t, 2, a.Profiler.Calls["update"])

	want := mgl32.HomogRotate3DY(0.5)
	assert.True(t, a.Scene.Entity(0).Transform.ApproxEqualThreshold(want, 1e-5))
	packed := gpu.MakeInstance(a.Scene.BLAS(0), want, 0, gpu.InstanceMaskAll, 0, gpu.InstanceFlagNone)
	got := a.Scene.Instances()[0].Transform
	assert.InDeltaSlice(t, packed.Transform[:], got[:], 1e-5)
}

func TestAppReloadReplacesScene(t *testing.T) {
	a, mem := headlessApp(t, writeScene(t, t.TempDir()))
	first := a.Scene.TLAS()

	require.NoError(t, a.LoadScene(a.Config.Scene))

	assert.Equal(t, 1, a.Scene.EntityCount())
	assert.Equal(t, 2, mem.Stats.TLASBuilds)
	assert.NotSame(t, first, a.Scene.TLAS())
	assert.True(t, first.(*gpu.MemoryAS).Released)
	assert.Len(t, a.Scene.Lights(), 1)
}

func TestAppLoadFailureLeavesEmptyScene(t *testing.T) {
	dir := t.TempDir()
	a, _ := headlessApp(t, writeScene(t, dir))

	err := a.LoadScene(filepath.Join(dir, "missing.gltf"))
	require.Error(t, err)
	assert.Equal(t, 0, a.Scene.EntityCount())

	// Animation targets from the old scene are gone.
	require.NoError(t, a.Step(0.1))
}

func TestAppWithoutScene(t *testing.T) {
	cfg := pathtrace.DefaultConfig()
	cfg.Backend = pathtrace.BackendMemory
	a := NewApp(cfg, nil)
	require.NoError(t, a.Init())
	defer a.Release()

	assert.Equal(t, 0, a.Scene.EntityCount())
	assert.Nil(t, a.Scene.TLAS())
	require.NoError(t, a.Frame())
	require.NoError(t, a.Frame())
	assert.Equal(t, 2, a.FrameCount)
}

func TestWatcherSignalsReload(t *testing.T) {
	dir := t.TempDir()
	path := writeScene(t, dir)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	defer w.Close()

	assert.False(t, w.Pending())
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	assert.Eventually(t, w.Pending, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeScene(t, dir)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	assert.Never(t, w.Pending, 200*time.Millisecond, 20*time.Millisecond)
}

func TestAppReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := writeScene(t, dir)

	cfg := pathtrace.DefaultConfig()
	cfg.Backend = pathtrace.BackendMemory
	cfg.Scene = path
	cfg.Watch = true
	a := NewApp(cfg, nil)
	require.NoError(t, a.Init())
	defer a.Release()
	require.NotNil(t, a.Watcher)

	mem := a.Backend.(*gpu.MemoryBackend)
	writeScene(t, dir)
	assert.Eventually(t, func() bool {
		if err := a.Step(0); err != nil {
			return false
		}
		return mem.Stats.TLASBuilds >= 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, a.Scene.EntityCount())
}
