package main

import (
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/gekko3d/pathtrace"
	"github.com/gekko3d/pathtrace/pathrt/rt/app"
	"github.com/gekko3d/pathtrace/pathrt/rt/core"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	configPath := flag.String("config", "", "YAML config file")
	scenePath := flag.String("scene", "", "glTF scene to load (overrides config)")
	backend := flag.String("backend", "", "Backend: wgpu or memory (overrides config)")
	headless := flag.Bool("headless", false, "Run without a window")
	frames := flag.Int("frames", -1, "Frames to run, 0 runs until the window closes (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	watch := flag.Bool("watch", false, "Reload the scene when its files change")
	flag.Parse()

	log := core.NewDefaultLogger("pathrt", *debug)

	cfg := pathtrace.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = pathtrace.LoadConfig(*configPath)
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}
	}
	if *scenePath != "" {
		cfg.Scene = *scenePath
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *frames >= 0 {
		cfg.Frames = *frames
	}
	cfg.Debug = cfg.Debug || *debug
	cfg.Watch = cfg.Watch || *watch
	cfg.Window.Headless = cfg.Window.Headless || *headless || cfg.Backend == pathtrace.BackendMemory
	if err := cfg.Validate(); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
	log.SetDebug(cfg.Debug)

	if cfg.Window.Headless {
		if err := runHeadless(cfg, log); err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}
		return
	}

	if err := glfw.Init(); err != nil {
		panic(err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(cfg.Window.Width, cfg.Window.Height, cfg.Window.Title, nil, nil)
	if err != nil {
		panic(err)
	}
	defer window.Destroy()

	application := app.NewApp(cfg, log)
	application.CreateSurface = func(instance *wgpu.Instance) *wgpu.Surface {
		return instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(window))
	}
	if err := application.Init(); err != nil {
		panic(err)
	}
	defer application.Release()

	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if action != glfw.Press {
			return
		}
		switch key {
		case glfw.KeyEscape:
			w.SetShouldClose(true)
		case glfw.KeyR:
			if err := application.LoadScene(cfg.Scene); err != nil {
				log.Errorf("Reload failed: %v", err)
			}
		case glfw.KeyP:
			log.Infof("\n%s", application.Profiler.GetStatsString())
		}
	})

	lastTitle := time.Now()
	for !window.ShouldClose() {
		glfw.PollEvents()
		if err := application.Frame(); err != nil {
			log.Errorf("%v", err)
			return
		}
		if time.Since(lastTitle) > time.Second {
			window.SetTitle(application.StatsLine())
			lastTitle = time.Now()
		}
		if cfg.Frames > 0 && application.FrameCount >= cfg.Frames {
			break
		}
	}
}

// runHeadless steps the scene at a fixed 60 Hz without a window. With no
// frame limit it only loads and builds once.
func runHeadless(cfg pathtrace.Config, log core.Logger) error {
	application := app.NewApp(cfg, log)
	if err := application.Init(); err != nil {
		return err
	}
	defer application.Release()

	const dt = 1.0 / 60.0
	for i := 0; i < cfg.Frames; i++ {
		if err := application.Step(dt); err != nil {
			return err
		}
	}
	log.Infof("\n%s", application.Profiler.GetStatsString())
	return nil
}
