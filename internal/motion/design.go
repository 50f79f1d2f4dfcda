package motion

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"github.com/fernwatch/camtrap/internal/monitoring"
)

// Cheby2SOS designs a low-pass Chebyshev type-II digital filter and returns
// it as a cascade of second-order sections. The design path is the classic
// one: analog prototype, low-pass frequency transform with pre-warping, then
// bilinear transform. Type II is chosen because its passband is maximally
// flat, so slow coherent motion passes through undistorted while
// frame-to-frame oscillation lands in the equiripple stopband.
//
// cutoffHz is normalised against the Nyquist rate of the given framerate and
// clamped into (0, 1) with a logged error, matching how out-of-range tuning
// values are tolerated elsewhere.
func Cheby2SOS(order int, attenuationDB, cutoffHz float64, framerate int) ([]Biquad, error) {
	if order < 1 {
		return nil, fmt.Errorf("filter order must be >= 1, got %d", order)
	}
	if attenuationDB <= 0 {
		return nil, fmt.Errorf("stop-band attenuation must be positive, got %g dB", attenuationDB)
	}
	if framerate <= 0 {
		return nil, fmt.Errorf("framerate must be positive, got %d", framerate)
	}

	wn := cutoffHz / (float64(framerate) / 2)
	if wn <= 0 {
		monitoring.Logf("smoothing cutoff frequency too low (wn = %.2f), clamping", wn)
		wn = 1e-10
	} else if wn >= 1 {
		monitoring.Logf("smoothing cutoff frequency too high (wn = %.2f), clamping", wn)
		wn = 1 - 1e-10
	}

	zeros, poles, gain := cheby2Prototype(order, attenuationDB)

	// Pre-warp the band edge and scale the prototype to it. The bilinear
	// transform below assumes a sample rate of 2.
	warped := 4 * math.Tan(math.Pi*wn/2)
	for i := range zeros {
		zeros[i] *= complex(warped, 0)
	}
	for i := range poles {
		poles[i] *= complex(warped, 0)
	}
	gain *= math.Pow(warped, float64(len(poles)-len(zeros)))

	zeros, poles, gain = bilinear(zeros, poles, gain)

	return zpk2sos(zeros, poles, gain), nil
}

// cheby2Prototype returns the zeros, poles and gain of an analog Chebyshev
// type-II low-pass prototype with unit stopband edge.
func cheby2Prototype(order int, attenuationDB float64) ([]complex128, []complex128, float64) {
	n := float64(order)
	de := 1 / math.Sqrt(math.Pow(10, 0.1*attenuationDB)-1)
	mu := math.Asinh(1/de) / n

	// Zero angles skip m = 0 for odd orders: that zero sits at infinity.
	var zeros []complex128
	for m := -order + 1; m < order; m += 2 {
		if m == 0 {
			continue
		}
		theta := float64(m) * math.Pi / (2 * n)
		zeros = append(zeros, cmplx.Conj(complex(0, 1)/complex(math.Cos(theta), 0)))
	}

	var poles []complex128
	for m := -order + 1; m < order; m += 2 {
		p := -cmplx.Exp(complex(0, float64(m)*math.Pi/(2*n)))
		p = complex(math.Sinh(mu)*real(p), math.Cosh(mu)*imag(p))
		poles = append(poles, 1/p)
	}

	num := complex(1, 0)
	for _, p := range poles {
		num *= -p
	}
	den := complex(1, 0)
	for _, z := range zeros {
		den *= -z
	}
	return zeros, poles, real(num) / real(den)
}

// bilinear maps analog zeros/poles/gain to the digital plane assuming a
// sample rate of 2. Zeros at infinity map to z = -1.
func bilinear(zeros, poles []complex128, gain float64) ([]complex128, []complex128, float64) {
	const fs2 = 4.0 // 2 * sample rate

	zd := make([]complex128, 0, len(poles))
	pd := make([]complex128, 0, len(poles))

	num := complex(1, 0)
	for _, z := range zeros {
		zd = append(zd, (complex(fs2, 0)+z)/(complex(fs2, 0)-z))
		num *= complex(fs2, 0) - z
	}
	den := complex(1, 0)
	for _, p := range poles {
		pd = append(pd, (complex(fs2, 0)+p)/(complex(fs2, 0)-p))
		den *= complex(fs2, 0) - p
	}
	gain *= real(num / den)

	// Degree difference becomes zeros at Nyquist.
	for len(zd) < len(pd) {
		zd = append(zd, complex(-1, 0))
	}
	return zd, pd, gain
}

// zpk2sos pairs conjugate roots into second-order sections. The overall gain
// is folded into the first section. Pairing order does not matter for
// float64 evaluation; both lists are sorted by angle so the output is
// deterministic.
func zpk2sos(zeros, poles []complex128, gain float64) []Biquad {
	const eps = 1e-9

	split := func(roots []complex128) (pairs []complex128, reals []float64) {
		for _, r := range roots {
			switch {
			case imag(r) > eps:
				pairs = append(pairs, r)
			case imag(r) < -eps:
				// conjugate counterpart carries the pair
			default:
				reals = append(reals, real(r))
			}
		}
		sort.Slice(pairs, func(i, j int) bool {
			return math.Abs(cmplx.Phase(pairs[i])) < math.Abs(cmplx.Phase(pairs[j]))
		})
		return pairs, reals
	}

	zPairs, zReals := split(zeros)
	pPairs, pReals := split(poles)

	var sections []Biquad

	// Odd orders leave one real pole; it pairs with one real zero (the one
	// added at z = -1 by the bilinear transform).
	for i := range pReals {
		var zr float64
		if i < len(zReals) {
			zr = zReals[i]
		}
		sections = append(sections, Biquad{
			B0: 1, B1: -zr, B2: 0,
			A1: -pReals[i], A2: 0,
		})
	}

	for i := range pPairs {
		p := pPairs[i]
		sec := Biquad{
			B0: 1,
			A1: -2 * real(p),
			A2: real(p)*real(p) + imag(p)*imag(p),
		}
		if i < len(zPairs) {
			z := zPairs[i]
			sec.B1 = -2 * real(z)
			sec.B2 = real(z)*real(z) + imag(z)*imag(z)
		}
		sections = append(sections, sec)
	}

	if len(sections) > 0 {
		sections[0].B0 *= gain
		sections[0].B1 *= gain
		sections[0].B2 *= gain
	}
	return sections
}
