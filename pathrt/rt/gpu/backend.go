package gpu

import (
	"errors"

	"github.com/go-gl/mathgl/mgl32"
)

var (
	ErrBufferTooSmall         = errors.New("gpu: data larger than buffer")
	ErrInstanceCountMismatch  = errors.New("gpu: instance count differs from the built TLAS")
	ErrNotTopLevel            = errors.New("gpu: acceleration structure is not a TLAS")
	ErrForeignResource        = errors.New("gpu: resource was not created by this backend")
	ErrEmptyGeometry          = errors.New("gpu: geometry has no triangles")
	ErrImageSizeMismatch      = errors.New("gpu: pixel data does not match image size")
	ErrReleasedResource       = errors.New("gpu: resource already released")
	ErrMissingBottomLevel     = errors.New("gpu: instance has no BLAS")
	ErrUnsupportedPixelFormat = errors.New("gpu: unsupported pixel format")
)

type BufferUsage uint32

const (
	BufferUsageStorage BufferUsage = 1 << iota
	BufferUsageUniform
	BufferUsageVertex
	BufferUsageIndex
	// BufferUsageDynamic buffers are rewritten after creation.
	BufferUsageDynamic
)

type PixelFormat uint32

const (
	PixelFormatRGBA8Unorm PixelFormat = iota
	PixelFormatRGBA8UnormSrgb
	PixelFormatRGBA32Float
)

func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelFormatRGBA8Unorm, PixelFormatRGBA8UnormSrgb:
		return 4
	case PixelFormatRGBA32Float:
		return 16
	}
	return 0
}

type Buffer interface {
	Label() string
	Size() uint64
	Release()
}

type Image interface {
	Width() uint32
	Height() uint32
	Format() PixelFormat
	Release()
}

type Sampler interface {
	Release()
}

type FilterMode uint32

const (
	FilterNearest FilterMode = iota
	FilterLinear
)

type AddressMode uint32

const (
	AddressRepeat AddressMode = iota
	AddressClampToEdge
	AddressMirrorRepeat
)

type SamplerDesc struct {
	Filter  FilterMode
	Address AddressMode
}

// LinearWrap is the sampler shared by all scene textures.
var LinearWrap = SamplerDesc{Filter: FilterLinear, Address: AddressRepeat}

// AccelerationStructure is a BLAS or TLAS handle.
type AccelerationStructure interface {
	// Reference is the value stored in instance records that point at a BLAS.
	Reference() uint64
	// Bounds is the object-space AABB for a BLAS, world-space for a TLAS.
	Bounds() (mgl32.Vec3, mgl32.Vec3)
	Release()
}

// Geometry is the input to a BLAS build. The buffers are the entity's uploaded
// attribute buffers; Positions and Indices are the CPU copies they were filled
// from.
type Geometry struct {
	Positions    []mgl32.Vec3
	Indices      []uint32
	VertexBuffer Buffer
	IndexBuffer  Buffer
}

// Backend is the GPU resource capability the scene layer consumes. All calls
// block from the caller's point of view.
type Backend interface {
	CreateBuffer(label string, size uint64, usage BufferUsage) (Buffer, error)
	UploadData(buf Buffer, data []byte) error
	CreateImage(width, height uint32, format PixelFormat) (Image, error)
	UploadImage(img Image, pixels []byte) error
	CreateSampler(desc SamplerDesc) (Sampler, error)
	CreateBottomLevelAccelerationStructure(geom Geometry) (AccelerationStructure, error)
	CreateTopLevelAccelerationStructure(instances []Instance) (AccelerationStructure, error)
	UpdateInstances(tlas AccelerationStructure, instances []Instance) error
}

// CreateBufferWithData creates a buffer sized for data and uploads it.
func CreateBufferWithData(b Backend, label string, data []byte, usage BufferUsage) (Buffer, error) {
	buf, err := b.CreateBuffer(label, uint64(len(data)), usage)
	if err != nil {
		return nil, err
	}
	if err := b.UploadData(buf, data); err != nil {
		buf.Release()
		return nil, err
	}
	return buf, nil
}
