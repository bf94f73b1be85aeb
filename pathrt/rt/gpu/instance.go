package gpu

import (
	"encoding/binary"
	"math"

	"github.com/gekko3d/pathtrace/pathrt/rt/core"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	InstanceMaskAll  uint8  = 0xFF
	InstanceFlagNone uint32 = 0

	// InstanceRecordSize matches the 64-byte hardware instance layout:
	// transform 3x4 (48), custom_index:24|mask:8 (4), sbt_offset:24|flags:8 (4),
	// blas_reference u64 (8).
	InstanceRecordSize = 64
)

type Instance struct {
	BLAS        AccelerationStructure
	Transform   [12]float32 // row-major 3x4
	CustomIndex uint32      // low 24 bits are kept
	Mask        uint8
	SBTOffset   uint32 // low 24 bits are kept
	Flags       uint32 // low 8 bits are kept
}

// MakeInstance builds the record for blas placed by a 4x4 world transform.
func MakeInstance(blas AccelerationStructure, transform mgl32.Mat4, customIndex uint32, mask uint8, sbtOffset uint32, flags uint32) Instance {
	return Instance{
		BLAS:        blas,
		Transform:   core.Affine3x4(transform),
		CustomIndex: customIndex,
		Mask:        mask,
		SBTOffset:   sbtOffset,
		Flags:       flags,
	}
}

// Matrix expands the 3x4 transform back to a 4x4 with [0 0 0 1] as last row.
func (in *Instance) Matrix() mgl32.Mat4 {
	m := mgl32.Ident4()
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			m.Set(r, c, in.Transform[r*4+c])
		}
	}
	return m
}

// WorldBounds transforms the BLAS bounds by the instance transform.
func (in *Instance) WorldBounds() [2]mgl32.Vec3 {
	minB, maxB := in.BLAS.Bounds()
	wMin, wMax := core.TransformAABB(in.Matrix(), minB, maxB)
	return [2]mgl32.Vec3{wMin, wMax}
}

func (in *Instance) PutBytes(buf []byte) {
	for i, v := range in.Transform {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	binary.LittleEndian.PutUint32(buf[48:52], in.CustomIndex&0xFFFFFF|uint32(in.Mask)<<24)
	binary.LittleEndian.PutUint32(buf[52:56], in.SBTOffset&0xFFFFFF|(in.Flags&0xFF)<<24)
	var ref uint64
	if in.BLAS != nil {
		ref = in.BLAS.Reference()
	}
	binary.LittleEndian.PutUint64(buf[56:64], ref)
}

// InstancesToBytes serializes the records. An empty list yields one zeroed
// record.
func InstancesToBytes(instances []Instance) []byte {
	if len(instances) == 0 {
		return make([]byte, InstanceRecordSize)
	}
	out := make([]byte, len(instances)*InstanceRecordSize)
	for i := range instances {
		instances[i].PutBytes(out[i*InstanceRecordSize:])
	}
	return out
}

func instanceBounds(instances []Instance) ([][2]mgl32.Vec3, error) {
	aabbs := make([][2]mgl32.Vec3, len(instances))
	for i := range instances {
		if instances[i].BLAS == nil {
			return nil, ErrMissingBottomLevel
		}
		aabbs[i] = instances[i].WorldBounds()
	}
	return aabbs, nil
}
