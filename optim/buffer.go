package optim

import "fmt"

// A GradientBuffer is a fixed-length accumulator for flat gradient
// vectors. The length is set at creation and never changes.
type GradientBuffer struct {
	vec []float64
}

// NewGradientBuffer creates a zeroed buffer of the given length.
func NewGradientBuffer(dim int) *GradientBuffer {
	return &GradientBuffer{vec: make([]float64, dim)}
}

// Dim returns the buffer's fixed length.
func (b *GradientBuffer) Dim() int {
	return len(b.vec)
}

// Accumulate adds grad into the buffer element-wise.
func (b *GradientBuffer) Accumulate(grad []float64) error {
	if len(grad) != len(b.vec) {
		return fmt.Errorf("%w: got %d values, buffer holds %d", ErrDimension, len(grad), len(b.vec))
	}
	for i, g := range grad {
		b.vec[i] += g
	}
	return nil
}

// Scale multiplies every element by c.
func (b *GradientBuffer) Scale(c float64) {
	for i := range b.vec {
		b.vec[i] *= c
	}
}

// Reset zeroes the buffer.
func (b *GradientBuffer) Reset() {
	for i := range b.vec {
		b.vec[i] = 0
	}
}

// Values returns the backing vector. The caller must not hold it
// across a Reset or Accumulate; use Copy to keep the contents.
func (b *GradientBuffer) Values() []float64 {
	return b.vec
}

// Copy returns a fresh copy of the buffer's contents.
func (b *GradientBuffer) Copy() []float64 {
	return append([]float64(nil), b.vec...)
}
