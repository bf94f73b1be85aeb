package scene

import (
	"fmt"

	"github.com/gekko3d/pathtrace/pathrt/rt/gpu"
)

// buildInstances derives one instance per entity that has a BLAS. The
// custom index is the registry index, which shading uses to find the
// material record.
func (s *Scene) buildInstances() []gpu.Instance {
	instances := make([]gpu.Instance, 0, len(s.records))
	for i := range s.records {
		r := &s.records[i]
		if r.blas == nil {
			continue
		}
		instances = append(instances, gpu.MakeInstance(
			r.blas,
			r.entity.Transform,
			uint32(i),
			gpu.InstanceMaskAll,
			0,
			gpu.InstanceFlagNone,
		))
	}
	return instances
}

// BuildAccelerationStructures builds a new TLAS over every entity, replacing
// the previous one, then refreshes the material, emissive triangle and light
// buffers. Use it after any membership change.
func (s *Scene) BuildAccelerationStructures() error {
	if len(s.records) == 0 {
		s.log.Warnf("BuildAccelerationStructures: scene has no entities")
		return nil
	}

	instances := s.buildInstances()
	tlas, err := s.backend.CreateTopLevelAccelerationStructure(instances)
	if err != nil {
		return fmt.Errorf("scene: build TLAS: %w", err)
	}
	if s.tlas != nil {
		s.tlas.Release()
	}
	s.tlas = tlas
	s.instances = instances
	s.log.Debugf("TLAS built with %d instances", len(instances))

	if err := s.UpdateMaterialsBuffer(); err != nil {
		return err
	}
	if err := s.UpdateEmissiveTriangleBuffer(); err != nil {
		return err
	}
	return s.UpdateLightsBuffer()
}

// UpdateInstances pushes current entity transforms into the existing TLAS
// without rebuilding it. Membership must not have changed since the last
// BuildAccelerationStructures. Material and emissive buffers are not touched.
func (s *Scene) UpdateInstances() error {
	if s.tlas == nil {
		return nil
	}
	if len(s.records) == 0 {
		s.log.Warnf("UpdateInstances: scene has no entities")
		return nil
	}

	instances := s.buildInstances()
	if err := s.backend.UpdateInstances(s.tlas, instances); err != nil {
		return fmt.Errorf("scene: update instances: %w", err)
	}
	s.instances = instances
	return nil
}
