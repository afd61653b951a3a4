package oof

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// fft3D performs separable 3D Fast Fourier Transforms on row-major complex
// volumes. Each axis gets its own gonum complex FFT plan; lines are copied out,
// transformed and written back.
type fft3D struct {
	n    [3]int
	plan [3]*fourier.CmplxFFT
}

func newFFT3D(nx, ny, nz int) *fft3D {
	return &fft3D{
		n: [3]int{nx, ny, nz},
		plan: [3]*fourier.CmplxFFT{
			fourier.NewCmplxFFT(nx),
			fourier.NewCmplxFFT(ny),
			fourier.NewCmplxFFT(nz),
		},
	}
}

// len returns the number of samples in a full volume.
func (f *fft3D) len() int {
	return f.n[0] * f.n[1] * f.n[2]
}

// forward replaces data with its 3D discrete Fourier coefficients.
func (f *fft3D) forward(data []complex128) {
	f.apply(data, false)
}

// inverse replaces data with its normalized inverse transform.
func (f *fft3D) inverse(data []complex128) {
	f.apply(data, true)
	scale := complex(1/float64(f.len()), 0)
	for i := range data {
		data[i] *= scale
	}
}

func (f *fft3D) apply(data []complex128, inverse bool) {
	for ax := 0; ax < 3; ax++ {
		n := f.n[ax]
		if n == 1 {
			continue
		}
		stride, starts := f.lines(ax)
		line := make([]complex128, n)
		out := make([]complex128, n)
		plan := f.plan[ax]

		for _, base := range starts {
			for i := 0; i < n; i++ {
				line[i] = data[base+i*stride]
			}
			if inverse {
				plan.Sequence(out, line)
			} else {
				plan.Coefficients(out, line)
			}
			for i := 0; i < n; i++ {
				data[base+i*stride] = out[i]
			}
		}
	}
}

// lines returns the element stride along axis ax and the offset of the first
// element of every line running along that axis.
func (f *fft3D) lines(ax int) (int, []int) {
	nx, ny, nz := f.n[0], f.n[1], f.n[2]
	plane := nx * ny
	var starts []int
	switch ax {
	case 0:
		starts = make([]int, 0, ny*nz)
		for z := 0; z < nz; z++ {
			for y := 0; y < ny; y++ {
				starts = append(starts, z*plane+y*nx)
			}
		}
		return 1, starts
	case 1:
		starts = make([]int, 0, nx*nz)
		for z := 0; z < nz; z++ {
			for x := 0; x < nx; x++ {
				starts = append(starts, z*plane+x)
			}
		}
		return nx, starts
	default:
		starts = make([]int, 0, plane)
		for i := 0; i < plane; i++ {
			starts = append(starts, i)
		}
		return plane, starts
	}
}

// frequency returns the signed frequency, in cycles per sample, of DFT bin k
// in a transform of length n.
func frequency(k, n int) float64 {
	if k <= n/2 {
		return float64(k) / float64(n)
	}
	return float64(k-n) / float64(n)
}

// smoothSize returns the smallest size >= n whose only prime factors are
// 2, 3 and 5, keeping the mixed-radix transforms fast.
func smoothSize(n int) int {
	if n < 1 {
		return 1
	}
	for m := n; ; m++ {
		r := m
		for _, p := range []int{2, 3, 5} {
			for r%p == 0 {
				r /= p
			}
		}
		if r == 1 {
			return m
		}
	}
}
