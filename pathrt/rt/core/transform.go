package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Transform is a decomposed local transform.
type Transform struct {
	Translation mgl32.Vec3
	Rotation    mgl32.Quat
	Scale       mgl32.Vec3
}

func NewTransform() Transform {
	return Transform{
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
	}
}

// Matrix composes T * R * S.
func (t Transform) Matrix() mgl32.Mat4 {
	translate := mgl32.Translate3D(t.Translation.X(), t.Translation.Y(), t.Translation.Z())
	rotate := t.Rotation.Normalize().Mat4()
	scale := mgl32.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z())

	return translate.Mul4(rotate).Mul4(scale)
}

// Affine3x4 drops the last row of m, which is [0 0 0 1] for affine transforms.
// The result is row-major: three rows of four.
func Affine3x4(m mgl32.Mat4) [12]float32 {
	var out [12]float32
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			out[r*4+c] = m.At(r, c)
		}
	}
	return out
}

// TransformPoint applies m to p with w = 1.
func TransformPoint(m mgl32.Mat4, p mgl32.Vec3) mgl32.Vec3 {
	return m.Mul4x1(p.Vec4(1.0)).Vec3()
}

// TransformAABB returns the world bounds of the eight transformed corners.
func TransformAABB(m mgl32.Mat4, minB, maxB mgl32.Vec3) (mgl32.Vec3, mgl32.Vec3) {
	corners := [8]mgl32.Vec3{
		{minB.X(), minB.Y(), minB.Z()},
		{maxB.X(), minB.Y(), minB.Z()},
		{minB.X(), maxB.Y(), minB.Z()},
		{maxB.X(), maxB.Y(), minB.Z()},
		{minB.X(), minB.Y(), maxB.Z()},
		{maxB.X(), minB.Y(), maxB.Z()},
		{minB.X(), maxB.Y(), maxB.Z()},
		{maxB.X(), maxB.Y(), maxB.Z()},
	}

	wMin := TransformPoint(m, corners[0])
	wMax := wMin
	for _, c := range corners[1:] {
		wc := TransformPoint(m, c)
		for i := 0; i < 3; i++ {
			wMin[i] = min(wMin[i], wc[i])
			wMax[i] = max(wMax[i], wc[i])
		}
	}
	return wMin, wMax
}
