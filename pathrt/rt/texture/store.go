package texture

import (
	"errors"
	"fmt"

	"github.com/gekko3d/pathtrace/pathrt/rt/core"
	"github.com/gekko3d/pathtrace/pathrt/rt/gpu"
)

var ErrInvalidImage = errors.New("texture: invalid image")

// Store owns the uploaded scene textures. Materials refer to them by the id
// AddTexture returns, which is also the index into Textures(). Ids are never
// reused: Clear releases the images but keeps their slots.
type Store struct {
	backend gpu.Backend
	log     core.Logger

	// Format is used for images created after it is set.
	Format gpu.PixelFormat

	images  []gpu.Image // nil once released
	live    int
	sampler gpu.Sampler
}

func NewStore(backend gpu.Backend, log core.Logger) *Store {
	return &Store{
		backend: backend,
		log:     core.OrNop(log),
		Format:  gpu.PixelFormatRGBA8Unorm,
	}
}

// AddTexture uploads img as RGBA8 and returns its id. Invalid input returns
// -1 and ErrInvalidImage without touching the store.
func (s *Store) AddTexture(img *Image) (int, error) {
	if !img.Valid() {
		s.log.Warnf("Rejecting invalid texture image")
		return -1, ErrInvalidImage
	}

	w, h := uint32(img.Width), uint32(img.Height)
	gpuImg, err := s.backend.CreateImage(w, h, s.Format)
	if err != nil {
		return -1, fmt.Errorf("texture: create image %dx%d: %w", w, h, err)
	}
	if err := s.backend.UploadImage(gpuImg, s.pixels(img)); err != nil {
		gpuImg.Release()
		return -1, fmt.Errorf("texture: upload image %dx%d: %w", w, h, err)
	}

	id := len(s.images)
	s.images = append(s.images, gpuImg)
	s.live++
	s.log.Debugf("Texture %d: %dx%d (%d channels)", id, w, h, img.Channels)
	return id, nil
}

func (s *Store) pixels(img *Image) []byte {
	rgba := img.ToRGBA8()
	if s.Format != gpu.PixelFormatRGBA32Float {
		return rgba
	}
	out := make([]byte, len(rgba)*4)
	for i, v := range rgba {
		core.PutFloat32(out, i*4, float32(v)/255)
	}
	return out
}

// Sampler returns the shared linear-filtering, repeat-addressing sampler,
// creating it on first use.
func (s *Store) Sampler() (gpu.Sampler, error) {
	if s.sampler != nil {
		return s.sampler, nil
	}
	sampler, err := s.backend.CreateSampler(gpu.LinearWrap)
	if err != nil {
		return nil, fmt.Errorf("texture: create sampler: %w", err)
	}
	s.sampler = sampler
	return sampler, nil
}

// Textures returns the images indexed by id. Slots cleared by Clear are nil.
func (s *Store) Textures() []gpu.Image {
	return s.images
}

// Texture returns the live image for id.
func (s *Store) Texture(id int) (gpu.Image, bool) {
	if id < 0 || id >= len(s.images) || s.images[id] == nil {
		return nil, false
	}
	return s.images[id], true
}

// Count is the number of live images.
func (s *Store) Count() int {
	return s.live
}

// NextID is the id the next successful AddTexture returns.
func (s *Store) NextID() int {
	return len(s.images)
}

// Clear releases every image and the sampler. Released ids stay retired.
func (s *Store) Clear() {
	for i, img := range s.images {
		if img != nil {
			img.Release()
			s.images[i] = nil
		}
	}
	s.live = 0
	if s.sampler != nil {
		s.sampler.Release()
		s.sampler = nil
	}
}
