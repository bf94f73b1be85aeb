package app

import (
	"fmt"
	"time"

	"github.com/gekko3d/pathtrace"
	"github.com/gekko3d/pathtrace/pathrt/rt/asset"
	"github.com/gekko3d/pathtrace/pathrt/rt/core"
	"github.com/gekko3d/pathtrace/pathrt/rt/gpu"
	"github.com/gekko3d/pathtrace/pathrt/rt/scene"
	"github.com/gekko3d/pathtrace/pathrt/rt/texture"

	"github.com/cogentcore/webgpu/wgpu"
)

// SurfaceFunc creates the presentation surface for a window. It is nil when
// running headless.
type SurfaceFunc func(instance *wgpu.Instance) *wgpu.Surface

type App struct {
	Config pathtrace.Config
	Log    core.Logger

	CreateSurface SurfaceFunc

	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Surface  *wgpu.Surface

	Backend  gpu.Backend
	Scene    *scene.Scene
	Textures *texture.Store
	Importer *asset.Importer
	Animator *Animator
	Profiler *Profiler
	Watcher  *Watcher

	FrameCount int
	lastFrame  time.Time
	now        func() time.Time
}

func NewApp(cfg pathtrace.Config, log core.Logger) *App {
	return &App{
		Config:   cfg,
		Log:      core.OrNop(log),
		Animator: NewAnimator(cfg.Animations),
		Profiler: NewProfiler(),
		now:      time.Now,
	}
}

// Init brings up the backend and the scene components, loads the configured
// scene and starts watching it when asked to.
func (a *App) Init() error {
	if a.Backend == nil {
		switch a.Config.Backend {
		case pathtrace.BackendMemory:
			a.Backend = gpu.NewMemoryBackend()
		default:
			if err := a.initDevice(); err != nil {
				return err
			}
			a.Backend = gpu.NewWgpuBackend(a.Device)
		}
	}

	a.Scene = scene.NewScene(a.Backend, a.Log)
	a.Textures = texture.NewStore(a.Backend, a.Log)
	a.Importer = asset.NewImporter(a.Scene, a.Textures, a.Log)

	if a.Config.Scene == "" {
		a.Log.Warnf("No scene configured")
		return nil
	}
	if err := a.LoadScene(a.Config.Scene); err != nil {
		return err
	}
	if a.Config.Watch {
		w, err := NewWatcher(a.Config.Scene, a.Log)
		if err != nil {
			return fmt.Errorf("watch %s: %w", a.Config.Scene, err)
		}
		a.Watcher = w
	}
	return nil
}

func (a *App) initDevice() error {
	a.Instance = wgpu.CreateInstance(nil)

	if a.CreateSurface != nil {
		a.Surface = a.CreateSurface(a.Instance)
	}

	adapter, err := a.Instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: a.Surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return err
	}
	a.Adapter = adapter

	a.Device, err = adapter.RequestDevice(nil)
	if err != nil {
		return err
	}
	return nil
}

// LoadScene replaces the current scene with the contents of path. The
// registry and texture store are cleared first, so a failed import leaves an
// empty scene rather than a partial mix of old and new.
func (a *App) LoadScene(path string) error {
	a.Animator.Unbind()
	a.Scene.Clear()
	a.Textures.Clear()

	var res *asset.Result
	err := a.Profiler.Scope("import", func() error {
		var err error
		res, err = a.Importer.Import(path)
		return err
	})
	if err != nil {
		return err
	}

	lights, err := a.Config.SceneLights()
	if err != nil {
		return err
	}
	a.Scene.SetLights(append(lights, res.Lights...))

	if err := a.Profiler.Scope("build", a.Scene.BuildAccelerationStructures); err != nil {
		return fmt.Errorf("build %s: %w", path, err)
	}

	animated := a.Animator.Bind(a.Scene, a.Log)

	a.Profiler.SetCount("entities", a.Scene.EntityCount())
	a.Profiler.SetCount("skipped", res.Skipped)
	a.Profiler.SetCount("textures", a.Textures.Count())
	a.Profiler.SetCount("emissive tris", a.Scene.EmissiveTriangleCount())
	a.Profiler.SetCount("lights", len(a.Scene.Lights()))
	a.Profiler.SetCount("animated", animated)

	a.Log.Infof("Loaded %s: %d entities (%d skipped), %d textures, %d emissive triangles",
		path, a.Scene.EntityCount(), res.Skipped, a.Textures.Count(), a.Scene.EmissiveTriangleCount())
	return nil
}

// Step advances the scene by dt seconds. A pending file change triggers a
// full reload; animation only refits instances.
func (a *App) Step(dt float64) error {
	a.FrameCount++

	if a.Watcher != nil && a.Watcher.Pending() {
		a.Log.Infof("Reloading %s", a.Config.Scene)
		if err := a.LoadScene(a.Config.Scene); err != nil {
			// Keep running so the next save can fix it.
			a.Log.Errorf("Reload failed: %v", err)
		}
		return nil
	}

	changed, err := a.Animator.Advance(a.Scene, dt)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return a.Profiler.Scope("update", a.Scene.UpdateInstances)
}

// Frame steps with the wall-clock time since the previous frame.
func (a *App) Frame() error {
	now := a.now()
	dt := 0.0
	if !a.lastFrame.IsZero() {
		dt = now.Sub(a.lastFrame).Seconds()
	}
	a.lastFrame = now
	return a.Step(dt)
}

// StatsLine is a one-line summary for a window title.
func (a *App) StatsLine() string {
	return fmt.Sprintf("%s | %d entities | %d emissive tris | build %.2f ms | update %.2f ms",
		a.Config.Window.Title,
		a.Profiler.Counts["entities"],
		a.Profiler.Counts["emissive tris"],
		ms(a.Profiler.Last["build"]),
		ms(a.Profiler.Last["update"]))
}

func (a *App) Release() {
	if a.Watcher != nil {
		if err := a.Watcher.Close(); err != nil {
			a.Log.Warnf("Closing watcher: %v", err)
		}
		a.Watcher = nil
	}
	if a.Scene != nil {
		a.Scene.Clear()
	}
	if a.Textures != nil {
		a.Textures.Clear()
	}
	if a.Device != nil {
		a.Device.Release()
		a.Device = nil
	}
	if a.Adapter != nil {
		a.Adapter.Release()
		a.Adapter = nil
	}
	if a.Surface != nil {
		a.Surface.Release()
		a.Surface = nil
	}
	if a.Instance != nil {
		a.Instance.Release()
		a.Instance = nil
	}
}
