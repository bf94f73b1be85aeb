package gpu

import (
	"fmt"

	"github.com/gekko3d/pathtrace/pathrt/rt/bvh"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
)

// WgpuBackend implements Backend on a WebGPU device. WebGPU has no hardware
// ray tracing, so acceleration structures are software BVHs whose nodes and
// leaf payloads live in storage buffers read by the compute tracer.
type WgpuBackend struct {
	Device *wgpu.Device
	Queue  *wgpu.Queue

	// writeBuffer is Queue.WriteBuffer.
	writeBuffer func(buf *wgpu.Buffer, offset uint64, data []byte) error

	nextRef uint64
}

func NewWgpuBackend(device *wgpu.Device) *WgpuBackend {
	queue := device.GetQueue()
	return &WgpuBackend{
		Device:      device,
		Queue:       queue,
		writeBuffer: queue.WriteBuffer,
	}
}

type wgpuBuffer struct {
	buf   *wgpu.Buffer
	label string
	size  uint64
}

func (b *wgpuBuffer) Label() string { return b.label }
func (b *wgpuBuffer) Size() uint64  { return b.size }

func (b *wgpuBuffer) Release() {
	if b.buf != nil {
		b.buf.Release()
		b.buf = nil
	}
}

// Raw exposes the WebGPU buffer for bind group creation.
func (b *wgpuBuffer) Raw() *wgpu.Buffer { return b.buf }

// RawBuffer returns the WebGPU buffer behind buf, or nil if buf is not a
// WebGPU buffer.
func RawBuffer(buf Buffer) *wgpu.Buffer {
	if wb, ok := buf.(*wgpuBuffer); ok {
		return wb.buf
	}
	return nil
}

type wgpuImage struct {
	tex    *wgpu.Texture
	view   *wgpu.TextureView
	width  uint32
	height uint32
	format PixelFormat
}

func (i *wgpuImage) Width() uint32           { return i.width }
func (i *wgpuImage) Height() uint32          { return i.height }
func (i *wgpuImage) Format() PixelFormat     { return i.format }
func (i *wgpuImage) View() *wgpu.TextureView { return i.view }

func (i *wgpuImage) Release() {
	if i.view != nil {
		i.view.Release()
		i.view = nil
	}
	if i.tex != nil {
		i.tex.Release()
		i.tex = nil
	}
}

type wgpuSampler struct {
	sampler *wgpu.Sampler
}

func (s *wgpuSampler) Raw() *wgpu.Sampler { return s.sampler }

func (s *wgpuSampler) Release() {
	if s.sampler != nil {
		s.sampler.Release()
		s.sampler = nil
	}
}

// wgpuAS holds a BVH and its GPU copy: Nodes is the node array, Prims the
// leaf payload (triangle ids for a BLAS, instance records for a TLAS).
type wgpuAS struct {
	ref       uint64
	bottom    *bvh.BLAS
	top       *bvh.TLAS
	Nodes     *wgpuBuffer
	Prims     *wgpuBuffer
	instances int
}

func (a *wgpuAS) Reference() uint64 { return a.ref }

func (a *wgpuAS) Bounds() (mgl32.Vec3, mgl32.Vec3) {
	if a.bottom != nil {
		return a.bottom.Min, a.bottom.Max
	}
	if a.top != nil && len(a.top.Nodes) > 0 {
		return a.top.Nodes[0].Min, a.top.Nodes[0].Max
	}
	return mgl32.Vec3{}, mgl32.Vec3{}
}

func (a *wgpuAS) Release() {
	if a.Nodes != nil {
		a.Nodes.Release()
	}
	if a.Prims != nil {
		a.Prims.Release()
	}
}

func toWgpuUsage(usage BufferUsage) wgpu.BufferUsage {
	out := wgpu.BufferUsageCopyDst
	if usage&BufferUsageStorage != 0 || usage&BufferUsageDynamic != 0 {
		out |= wgpu.BufferUsageStorage
	}
	if usage&BufferUsageUniform != 0 {
		out |= wgpu.BufferUsageUniform
	}
	// The tracer reads geometry as storage as well as through the raster path.
	if usage&BufferUsageVertex != 0 {
		out |= wgpu.BufferUsageVertex | wgpu.BufferUsageStorage
	}
	if usage&BufferUsageIndex != 0 {
		out |= wgpu.BufferUsageIndex | wgpu.BufferUsageStorage
	}
	return out
}

func align4(n uint64) uint64 {
	if n%4 != 0 {
		n += 4 - (n % 4)
	}
	return n
}

func (w *WgpuBackend) CreateBuffer(label string, size uint64, usage BufferUsage) (Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("gpu: buffer %q created with size 0", label)
	}
	buf, err := w.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            label,
		Size:             align4(size),
		Usage:            toWgpuUsage(usage),
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create buffer %q: %w", label, err)
	}
	return &wgpuBuffer{buf: buf, label: label, size: size}, nil
}

func (w *WgpuBackend) UploadData(buf Buffer, data []byte) error {
	wb, ok := buf.(*wgpuBuffer)
	if !ok {
		return ErrForeignResource
	}
	if wb.buf == nil {
		return ErrReleasedResource
	}
	if uint64(len(data)) > wb.size {
		return fmt.Errorf("%w: %d bytes into %q of %d", ErrBufferTooSmall, len(data), wb.label, wb.size)
	}
	if len(data) == 0 {
		return nil
	}
	// WriteBuffer needs a multiple of 4 bytes; the allocation was rounded up.
	if padded := align4(uint64(len(data))); padded != uint64(len(data)) {
		tmp := make([]byte, padded)
		copy(tmp, data)
		data = tmp
	}
	if err := w.writeBuffer(wb.buf, 0, data); err != nil {
		return fmt.Errorf("gpu: write buffer %q: %w", wb.label, err)
	}
	return nil
}

func toWgpuFormat(format PixelFormat) (wgpu.TextureFormat, error) {
	switch format {
	case PixelFormatRGBA8Unorm:
		return wgpu.TextureFormatRGBA8Unorm, nil
	case PixelFormatRGBA8UnormSrgb:
		return wgpu.TextureFormatRGBA8UnormSrgb, nil
	case PixelFormatRGBA32Float:
		return wgpu.TextureFormatRGBA32Float, nil
	}
	return 0, ErrUnsupportedPixelFormat
}

func (w *WgpuBackend) CreateImage(width, height uint32, format PixelFormat) (Image, error) {
	texFormat, err := toWgpuFormat(format)
	if err != nil {
		return nil, err
	}
	tex, err := w.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "Scene Texture",
		Size:          wgpu.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        texFormat,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create texture %dx%d: %w", width, height, err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, fmt.Errorf("gpu: create texture view: %w", err)
	}
	return &wgpuImage{tex: tex, view: view, width: width, height: height, format: format}, nil
}

func (w *WgpuBackend) UploadImage(img Image, pixels []byte) error {
	wi, ok := img.(*wgpuImage)
	if !ok {
		return ErrForeignResource
	}
	if wi.tex == nil {
		return ErrReleasedResource
	}
	bpp := uint32(wi.format.BytesPerPixel())
	if len(pixels) != int(wi.width*wi.height*bpp) {
		return ErrImageSizeMismatch
	}
	extent := wgpu.Extent3D{Width: wi.width, Height: wi.height, DepthOrArrayLayers: 1}
	err := w.Queue.WriteTexture(
		wi.tex.AsImageCopy(),
		pixels,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  wi.width * bpp,
			RowsPerImage: wi.height,
		},
		&extent,
	)
	if err != nil {
		return fmt.Errorf("gpu: write texture: %w", err)
	}
	return nil
}

func (w *WgpuBackend) CreateSampler(desc SamplerDesc) (Sampler, error) {
	filter := wgpu.FilterModeNearest
	mip := wgpu.MipmapFilterModeNearest
	if desc.Filter == FilterLinear {
		filter = wgpu.FilterModeLinear
		mip = wgpu.MipmapFilterModeLinear
	}
	address := wgpu.AddressModeRepeat
	switch desc.Address {
	case AddressClampToEdge:
		address = wgpu.AddressModeClampToEdge
	case AddressMirrorRepeat:
		address = wgpu.AddressModeMirrorRepeat
	}
	s, err := w.Device.CreateSampler(&wgpu.SamplerDescriptor{
		AddressModeU:  address,
		AddressModeV:  address,
		AddressModeW:  address,
		MagFilter:     filter,
		MinFilter:     filter,
		MipmapFilter:  mip,
		LodMaxClamp:   32,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create sampler: %w", err)
	}
	return &wgpuSampler{sampler: s}, nil
}

func (w *WgpuBackend) uploadNew(label string, data []byte) (*wgpuBuffer, error) {
	buf, err := CreateBufferWithData(w, label, data, BufferUsageStorage)
	if err != nil {
		return nil, err
	}
	return buf.(*wgpuBuffer), nil
}

func (w *WgpuBackend) CreateBottomLevelAccelerationStructure(geom Geometry) (AccelerationStructure, error) {
	if len(geom.Indices) < 3 {
		return nil, ErrEmptyGeometry
	}
	blas := bvh.BuildBLAS(geom.Positions, geom.Indices)

	nodes, err := w.uploadNew("BLASNodesBuf", blas.Bytes())
	if err != nil {
		return nil, err
	}
	prims, err := w.uploadNew("BLASTrianglesBuf", blas.TriangleBytes())
	if err != nil {
		nodes.Release()
		return nil, err
	}

	w.nextRef++
	return &wgpuAS{ref: w.nextRef, bottom: blas, Nodes: nodes, Prims: prims}, nil
}

func (w *WgpuBackend) CreateTopLevelAccelerationStructure(instances []Instance) (AccelerationStructure, error) {
	aabbs, err := instanceBounds(instances)
	if err != nil {
		return nil, err
	}
	tlas := bvh.BuildTLAS(aabbs)

	nodes, err := w.uploadNew("TLASNodesBuf", tlas.Bytes())
	if err != nil {
		return nil, err
	}
	prims, err := w.uploadNew("InstancesBuf", InstancesToBytes(instances))
	if err != nil {
		nodes.Release()
		return nil, err
	}

	w.nextRef++
	return &wgpuAS{ref: w.nextRef, top: tlas, Nodes: nodes, Prims: prims, instances: len(instances)}, nil
}

// UpdateInstances refits the TLAS and rewrites both of its buffers in place.
// The node and instance counts are unchanged, so no buffer is reallocated.
func (w *WgpuBackend) UpdateInstances(tlas AccelerationStructure, instances []Instance) error {
	as, ok := tlas.(*wgpuAS)
	if !ok {
		return ErrForeignResource
	}
	if as.top == nil {
		return ErrNotTopLevel
	}
	if len(instances) != as.instances {
		return ErrInstanceCountMismatch
	}
	aabbs, err := instanceBounds(instances)
	if err != nil {
		return err
	}
	if err := as.top.Refit(aabbs); err != nil {
		return err
	}
	if err := w.UploadData(as.Nodes, as.top.Bytes()); err != nil {
		return err
	}
	return w.UploadData(as.Prims, InstancesToBytes(instances))
}

// Buffers returns the node and payload buffers of an acceleration structure
// created by this backend, for bind group creation.
func (w *WgpuBackend) Buffers(as AccelerationStructure) (nodes, prims *wgpu.Buffer) {
	wa, ok := as.(*wgpuAS)
	if !ok {
		return nil, nil
	}
	return wa.Nodes.Raw(), wa.Prims.Raw()
}
