package preprocess

import (
	"math"
	"sort"

	"github.com/YetAnotherUser24/awive/frame"
)

// gaussianKernel builds a normalized 1D Gaussian kernel for separable
// filtering.
func gaussianKernel(radius int, sigma float64) []float32 {
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float32, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = float32(v)
		sum += v
	}
	for i := range kernel {
		kernel[i] /= float32(sum)
	}
	return kernel
}

// gaussianBlur smooths the frame with two separable passes, horizontal then
// vertical, each parallelized across rows.
func gaussianBlur(in *frame.Frame, kernel []float32) *frame.Frame {
	radius := len(kernel) / 2

	horizontal := frame.New(in.Width, in.Height, in.Index, in.Timestamp)
	frame.Parallel(in.Height, func(partStart, partEnd int) {
		for y := partStart; y < partEnd; y++ {
			for x := 0; x < in.Width; x++ {
				var acc float32
				for k := -radius; k <= radius; k++ {
					acc += in.At(x+k, y) * kernel[k+radius]
				}
				horizontal.Pix[y*in.Width+x] = acc
			}
		}
	})

	out := frame.New(in.Width, in.Height, in.Index, in.Timestamp)
	frame.Parallel(in.Height, func(partStart, partEnd int) {
		for y := partStart; y < partEnd; y++ {
			for x := 0; x < in.Width; x++ {
				var acc float32
				for k := -radius; k <= radius; k++ {
					acc += horizontal.At(x, y+k) * kernel[k+radius]
				}
				out.Pix[y*in.Width+x] = acc
			}
		}
	})
	return out
}

// medianFilter replaces each sample with the median of its k×k neighborhood.
// Effective against the salt-and-pepper speckle that sunlight glints leave on
// the water surface.
func medianFilter(in *frame.Frame, k int) *frame.Frame {
	radius := k / 2
	out := frame.New(in.Width, in.Height, in.Index, in.Timestamp)

	frame.Parallel(in.Height, func(partStart, partEnd int) {
		window := make([]float32, 0, k*k)
		for y := partStart; y < partEnd; y++ {
			for x := 0; x < in.Width; x++ {
				window = window[:0]
				for dy := -radius; dy <= radius; dy++ {
					for dx := -radius; dx <= radius; dx++ {
						window = append(window, in.At(x+dx, y+dy))
					}
				}
				sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
				out.Pix[y*in.Width+x] = window[len(window)/2]
			}
		}
	})
	return out
}
