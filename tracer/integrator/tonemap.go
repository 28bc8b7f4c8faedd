package integrator

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
)

// Convert a mean radiance value to an 8-bit channel. Values outside [0, 1]
// are clamped.
func toByte(v float32) uint32 {
	return uint32(math32.Min(1, math32.Max(0, v)) * 255)
}

// Pack the mean radiance of each tile pixel into the ldr buffer as
// 0xFF<<24 | B<<16 | G<<8 | R.
func (mc *MonteCarlo) colorTonemapping(frame uint32, offset, size image.Point) {
	frameF := float32(frame)
	mc.parallelFor(size.X*size.Y, func(i int) {
		index := mc.pixelIndex(offset, size, i)
		hdr := mc.hdr[index]
		if !hdr.IsFinite() {
			panic(fmt.Sprintf("integrator: non-finite radiance %v at pixel %d", hdr, index))
		}

		r := toByte(hdr[0] / frameF)
		g := toByte(hdr[1] / frameF)
		b := toByte(hdr[2] / frameF)
		mc.ldr[index] = 0xFF<<24 | b<<16 | g<<8 | r
	})
}
