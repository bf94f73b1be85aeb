package app

import (
	"strings"

	"github.com/gekko3d/pathtrace"
	"github.com/gekko3d/pathtrace/pathrt/rt/core"
	"github.com/gekko3d/pathtrace/pathrt/rt/scene"

	"github.com/go-gl/mathgl/mgl32"
)

type spin struct {
	entity int
	base   mgl32.Mat4
	axis   mgl32.Vec3
	speed  float32
}

// Animator spins entities in place. It only changes transforms, so each
// frame is pushed with UpdateInstances instead of a rebuild.
type Animator struct {
	configs []pathtrace.AnimationConfig
	spins   []spin
	Time    float64
}

func NewAnimator(configs []pathtrace.AnimationConfig) *Animator {
	return &Animator{configs: configs}
}

// matchesEntity accepts an exact name or an imported primitive of that node
// ("node/mesh#0").
func matchesEntity(name, pattern string) bool {
	return name == pattern || strings.HasPrefix(name, pattern+"/")
}

// Bind resolves the configured names against the scene and records each
// entity's current transform as its rest pose. It returns the number of
// animated entities.
func (an *Animator) Bind(s *scene.Scene, log core.Logger) int {
	log = core.OrNop(log)
	an.Unbind()

	for _, cfg := range an.configs {
		axis := mgl32.Vec3(cfg.Axis)
		if axis.Len() == 0 {
			continue
		}
		matched := 0
		for i, e := range s.Entities() {
			if !matchesEntity(e.Name, cfg.Entity) {
				continue
			}
			an.spins = append(an.spins, spin{
				entity: i,
				base:   e.Transform,
				axis:   axis.Normalize(),
				speed:  cfg.Speed,
			})
			matched++
		}
		if matched == 0 {
			log.Warnf("Animation target %q matches no entity", cfg.Entity)
		}
	}
	return len(an.spins)
}

// Unbind drops every resolved target, e.g. when the scene is cleared.
func (an *Animator) Unbind() {
	an.spins = an.spins[:0]
	an.Time = 0
}

// Advance moves time forward by dt seconds and rewrites the animated
// transforms. It reports whether any transform changed.
func (an *Animator) Advance(s *scene.Scene, dt float64) (bool, error) {
	if len(an.spins) == 0 {
		return false, nil
	}
	an.Time += dt
	for _, sp := range an.spins {
		angle := sp.speed * float32(an.Time)
		m := sp.base.Mul4(mgl32.HomogRotate3D(angle, sp.axis))
		if err := s.SetTransform(sp.entity, m); err != nil {
			return false, err
		}
	}
	return true, nil
}
