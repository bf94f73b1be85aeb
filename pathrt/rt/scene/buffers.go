package scene

import (
	"fmt"

	"github.com/gekko3d/pathtrace/pathrt/rt/core"
	"github.com/gekko3d/pathtrace/pathrt/rt/gpu"
)

// ensureBuffer uploads data into *buf, recreating it when it is missing or
// too small. It never shrinks. Reports whether the buffer was recreated, in
// which case bind groups referencing it are stale.
func (s *Scene) ensureBuffer(label string, buf *gpu.Buffer, data []byte, usage gpu.BufferUsage) (bool, error) {
	needed := uint64(len(data))
	recreated := false

	if *buf == nil || (*buf).Size() < needed {
		created, err := s.backend.CreateBuffer(label, needed, usage)
		if err != nil {
			return false, fmt.Errorf("scene: create %s: %w", label, err)
		}
		if *buf != nil {
			(*buf).Release()
		}
		*buf = created
		recreated = true
	}
	if err := s.backend.UploadData(*buf, data); err != nil {
		return recreated, fmt.Errorf("scene: upload %s: %w", label, err)
	}
	return recreated, nil
}

// UpdateMaterialsBuffer uploads one material record per entity in registry
// order. The buffer holds exactly EntityCount records: it is created on first
// use and recreated at the new size when the entity count has grown past it.
func (s *Scene) UpdateMaterialsBuffer() error {
	n := len(s.records)
	if n == 0 {
		return nil
	}

	data := make([]byte, n*core.MaterialRecordSize)
	for i := range s.records {
		s.records[i].entity.Material.PutBytes(data[i*core.MaterialRecordSize:])
	}

	// Membership only grows until Clear, so a recreated buffer is exact.
	recreated, err := s.ensureBuffer("MaterialsBuf", &s.materialsBuf, data, gpu.BufferUsageStorage|gpu.BufferUsageDynamic)
	if err != nil {
		return err
	}
	if recreated {
		s.log.Debugf("Materials buffer sized for %d records", n)
	}
	return nil
}

// UpdateEmissiveTriangleBuffer collects every triangle of every emissive
// entity in world space. With no emissive entity a single zero record is
// uploaded so the binding never has size 0.
func (s *Scene) UpdateEmissiveTriangleBuffer() error {
	var tris []core.LightTriangle
	for i := range s.records {
		e := s.records[i].entity
		if !e.Material.IsEmissive() {
			continue
		}
		emission := e.Material.EmissiveFactor
		for t := 0; t < e.Mesh.NumTriangles(); t++ {
			v0, v1, v2 := e.WorldTriangle(t)
			tris = append(tris, core.LightTriangle{V0: v0, V1: v1, V2: v2, Emission: emission})
		}
	}

	records := max(len(tris), 1)
	data := make([]byte, records*core.LightTriangleSize)
	for i := range tris {
		tris[i].PutBytes(data[i*core.LightTriangleSize:])
	}

	if _, err := s.ensureBuffer("EmissiveTrianglesBuf", &s.emissiveBuf, data, gpu.BufferUsageStorage|gpu.BufferUsageDynamic); err != nil {
		return err
	}
	s.emissiveTris = tris
	s.emissiveCount = len(tris)
	s.log.Debugf("Emissive triangles: %d", len(tris))
	return nil
}

// SetLights replaces the explicit light list. It reaches the GPU on the next
// UpdateLightsBuffer or BuildAccelerationStructures.
func (s *Scene) SetLights(lights []core.Light) {
	s.lights = append([]core.Light(nil), lights...)
}

// UpdateLightsBuffer uploads the explicit lights, or one zero record when
// there are none. The buffer only grows.
func (s *Scene) UpdateLightsBuffer() error {
	records := max(len(s.lights), 1)
	data := make([]byte, records*core.LightRecordSize)
	for i := range s.lights {
		s.lights[i].PutBytes(data[i*core.LightRecordSize:])
	}
	_, err := s.ensureBuffer("LightsBuf", &s.lightsBuf, data, gpu.BufferUsageStorage|gpu.BufferUsageDynamic)
	return err
}
