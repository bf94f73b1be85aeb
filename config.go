package pathtrace

import (
	"errors"
	"fmt"
	"os"

	"github.com/gekko3d/pathtrace/pathrt/rt/core"

	"github.com/go-gl/mathgl/mgl32"
	"gopkg.in/yaml.v3"
)

const (
	BackendWgpu   = "wgpu"
	BackendMemory = "memory"
)

type WindowConfig struct {
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
	Title    string `yaml:"title"`
	Headless bool   `yaml:"headless"`
}

// LightConfig is an explicitly authored light. Type is point, area or sun.
type LightConfig struct {
	Type      string     `yaml:"type"`
	Color     [3]float32 `yaml:"color"`
	Intensity float32    `yaml:"intensity"`
	Position  [3]float32 `yaml:"position,omitempty"`
	Direction [3]float32 `yaml:"direction,omitempty"`
	Extent    [3]float32 `yaml:"extent,omitempty"`
}

func (lc LightConfig) Light() (core.Light, error) {
	t, err := core.ParseLightType(lc.Type)
	if err != nil {
		return core.Light{}, err
	}
	return core.Light{
		Type:      t,
		Color:     mgl32.Vec3(lc.Color),
		Intensity: lc.Intensity,
		Position:  mgl32.Vec3(lc.Position),
		Direction: mgl32.Vec3(lc.Direction),
		Extent:    mgl32.Vec3(lc.Extent),
	}, nil
}

// AnimationConfig spins every entity whose name matches Entity around Axis
// at Speed radians per second.
type AnimationConfig struct {
	Entity string     `yaml:"entity"`
	Axis   [3]float32 `yaml:"axis"`
	Speed  float32    `yaml:"speed"`
}

type Config struct {
	Scene      string            `yaml:"scene"`
	Backend    string            `yaml:"backend"`
	Debug      bool              `yaml:"debug"`
	Watch      bool              `yaml:"watch"`
	Frames     int               `yaml:"frames"` // 0 runs until the window closes
	Window     WindowConfig      `yaml:"window"`
	Lights     []LightConfig     `yaml:"lights"`
	Animations []AnimationConfig `yaml:"animations"`
}

func DefaultConfig() Config {
	return Config{
		Backend: BackendWgpu,
		Window: WindowConfig{
			Width:  1280,
			Height: 720,
			Title:  "Path Tracer",
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendWgpu, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		errs = append(errs, fmt.Errorf("window size %dx%d must be positive", c.Window.Width, c.Window.Height))
	}
	if c.Frames < 0 {
		errs = append(errs, fmt.Errorf("frames must not be negative, got %d", c.Frames))
	}
	for i, l := range c.Lights {
		if _, err := core.ParseLightType(l.Type); err != nil {
			errs = append(errs, fmt.Errorf("lights[%d]: %w", i, err))
		}
	}
	for i, a := range c.Animations {
		if a.Entity == "" {
			errs = append(errs, fmt.Errorf("animations[%d]: entity name is empty", i))
		}
		if mgl32.Vec3(a.Axis).Len() == 0 {
			errs = append(errs, fmt.Errorf("animations[%d]: axis is zero", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// SceneLights converts the configured lights.
func (c *Config) SceneLights() ([]core.Light, error) {
	lights := make([]core.Light, 0, len(c.Lights))
	for i, lc := range c.Lights {
		l, err := lc.Light()
		if err != nil {
			return nil, fmt.Errorf("lights[%d]: %w", i, err)
		}
		lights = append(lights, l)
	}
	return lights, nil
}
