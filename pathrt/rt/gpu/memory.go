package gpu

import (
	"fmt"

	"github.com/gekko3d/pathtrace/pathrt/rt/bvh"

	"github.com/go-gl/mathgl/mgl32"
)

// MemoryStats counts backend calls.
type MemoryStats struct {
	BuffersCreated  int
	Uploads         int
	ImagesCreated   int
	SamplersCreated int
	BLASBuilds      int
	TLASBuilds      int
	InstanceUpdates int
	Released        int
}

// MemoryBackend keeps every resource in host memory. Acceleration structures
// are the same software BVHs the WebGPU backend uploads. It serves headless
// runs and tests.
type MemoryBackend struct {
	Stats MemoryStats

	// FailCreate, when set, is returned by every Create* call.
	FailCreate error

	nextRef uint64
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

type MemoryBuffer struct {
	owner    *MemoryBackend
	label    string
	usage    BufferUsage
	data     []byte
	Released bool
}

func (b *MemoryBuffer) Label() string      { return b.label }
func (b *MemoryBuffer) Size() uint64       { return uint64(len(b.data)) }
func (b *MemoryBuffer) Usage() BufferUsage { return b.usage }

// Bytes returns the buffer contents; the slice aliases the buffer.
func (b *MemoryBuffer) Bytes() []byte { return b.data }

func (b *MemoryBuffer) Release() {
	if !b.Released {
		b.Released = true
		b.owner.Stats.Released++
	}
}

type MemoryImage struct {
	owner    *MemoryBackend
	width    uint32
	height   uint32
	format   PixelFormat
	Pixels   []byte
	Released bool
}

func (i *MemoryImage) Width() uint32       { return i.width }
func (i *MemoryImage) Height() uint32      { return i.height }
func (i *MemoryImage) Format() PixelFormat { return i.format }

func (i *MemoryImage) Release() {
	if !i.Released {
		i.Released = true
		i.owner.Stats.Released++
	}
}

type MemorySampler struct {
	Desc     SamplerDesc
	Released bool
}

func (s *MemorySampler) Release() { s.Released = true }

// MemoryAS is a BLAS (Bottom set) or a TLAS (Top and Instances set).
type MemoryAS struct {
	owner     *MemoryBackend
	ref       uint64
	Bottom    *bvh.BLAS
	Top       *bvh.TLAS
	Instances []Instance
	Updates   int
	Released  bool
}

func (a *MemoryAS) Reference() uint64 { return a.ref }

func (a *MemoryAS) Bounds() (mgl32.Vec3, mgl32.Vec3) {
	if a.Bottom != nil {
		return a.Bottom.Min, a.Bottom.Max
	}
	if a.Top != nil && len(a.Top.Nodes) > 0 {
		return a.Top.Nodes[0].Min, a.Top.Nodes[0].Max
	}
	return mgl32.Vec3{}, mgl32.Vec3{}
}

func (a *MemoryAS) Release() {
	if !a.Released {
		a.Released = true
		a.owner.Stats.Released++
	}
}

func (m *MemoryBackend) CreateBuffer(label string, size uint64, usage BufferUsage) (Buffer, error) {
	if m.FailCreate != nil {
		return nil, m.FailCreate
	}
	if size == 0 {
		return nil, fmt.Errorf("gpu: buffer %q created with size 0", label)
	}
	m.Stats.BuffersCreated++
	return &MemoryBuffer{owner: m, label: label, usage: usage, data: make([]byte, size)}, nil
}

func (m *MemoryBackend) UploadData(buf Buffer, data []byte) error {
	mb, ok := buf.(*MemoryBuffer)
	if !ok || mb.owner != m {
		return ErrForeignResource
	}
	if mb.Released {
		return ErrReleasedResource
	}
	if uint64(len(data)) > mb.Size() {
		return fmt.Errorf("%w: %d bytes into %q of %d", ErrBufferTooSmall, len(data), mb.label, mb.Size())
	}
	copy(mb.data, data)
	m.Stats.Uploads++
	return nil
}

func (m *MemoryBackend) CreateImage(width, height uint32, format PixelFormat) (Image, error) {
	if m.FailCreate != nil {
		return nil, m.FailCreate
	}
	if format.BytesPerPixel() == 0 {
		return nil, ErrUnsupportedPixelFormat
	}
	m.Stats.ImagesCreated++
	return &MemoryImage{
		owner:  m,
		width:  width,
		height: height,
		format: format,
		Pixels: make([]byte, int(width)*int(height)*format.BytesPerPixel()),
	}, nil
}

func (m *MemoryBackend) UploadImage(img Image, pixels []byte) error {
	mi, ok := img.(*MemoryImage)
	if !ok || mi.owner != m {
		return ErrForeignResource
	}
	if len(pixels) != len(mi.Pixels) {
		return ErrImageSizeMismatch
	}
	copy(mi.Pixels, pixels)
	m.Stats.Uploads++
	return nil
}

func (m *MemoryBackend) CreateSampler(desc SamplerDesc) (Sampler, error) {
	if m.FailCreate != nil {
		return nil, m.FailCreate
	}
	m.Stats.SamplersCreated++
	return &MemorySampler{Desc: desc}, nil
}

func (m *MemoryBackend) CreateBottomLevelAccelerationStructure(geom Geometry) (AccelerationStructure, error) {
	if m.FailCreate != nil {
		return nil, m.FailCreate
	}
	if len(geom.Indices) < 3 {
		return nil, ErrEmptyGeometry
	}
	m.Stats.BLASBuilds++
	m.nextRef++
	return &MemoryAS{owner: m, ref: m.nextRef, Bottom: bvh.BuildBLAS(geom.Positions, geom.Indices)}, nil
}

func (m *MemoryBackend) CreateTopLevelAccelerationStructure(instances []Instance) (AccelerationStructure, error) {
	if m.FailCreate != nil {
		return nil, m.FailCreate
	}
	aabbs, err := instanceBounds(instances)
	if err != nil {
		return nil, err
	}
	m.Stats.TLASBuilds++
	m.nextRef++
	return &MemoryAS{
		owner:     m,
		ref:       m.nextRef,
		Top:       bvh.BuildTLAS(aabbs),
		Instances: append([]Instance(nil), instances...),
	}, nil
}

func (m *MemoryBackend) UpdateInstances(tlas AccelerationStructure, instances []Instance) error {
	ma, ok := tlas.(*MemoryAS)
	if !ok || ma.owner != m {
		return ErrForeignResource
	}
	if ma.Top == nil {
		return ErrNotTopLevel
	}
	if len(instances) != len(ma.Instances) {
		return ErrInstanceCountMismatch
	}
	aabbs, err := instanceBounds(instances)
	if err != nil {
		return err
	}
	if err := ma.Top.Refit(aabbs); err != nil {
		return err
	}
	copy(ma.Instances, instances)
	ma.Updates++
	m.Stats.InstanceUpdates++
	return nil
}
