package sequence

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/fernwatch/camtrap/internal/camera"
)

// Aggregator reduces the priorities of a sequence's MOTION frames to one
// representative scheduling priority. The choice of aggregation is a policy,
// not a constant: peak motion is the historical default but over-rewards
// single spikes, so mean and integral variants are provided as alternatives.
type Aggregator func(priorities []float64) float64

// MaxPriority scores a sequence by its single strongest frame.
func MaxPriority(priorities []float64) float64 {
	if len(priorities) == 0 {
		return camera.NeverInspect
	}
	return floats.Max(priorities)
}

// MeanPriority scores a sequence by its average motion strength, rewarding
// sustained motion over one-frame spikes.
func MeanPriority(priorities []float64) float64 {
	if len(priorities) == 0 {
		return camera.NeverInspect
	}
	return stat.Mean(priorities, nil)
}

// IntegralPriority scores a sequence by total accumulated motion, so long
// episodes of moderate motion can outrank short strong ones.
func IntegralPriority(priorities []float64) float64 {
	if len(priorities) == 0 {
		return camera.NeverInspect
	}
	return floats.Sum(priorities)
}

// AggregatorByName resolves a configured policy name.
func AggregatorByName(name string) (Aggregator, error) {
	switch name {
	case "", "max":
		return MaxPriority, nil
	case "mean":
		return MeanPriority, nil
	case "integral":
		return IntegralPriority, nil
	default:
		return nil, fmt.Errorf("unknown priority aggregate %q (want max, mean or integral)", name)
	}
}

// motionPriorities collects the priorities of the MOTION frames only; STILL
// frames carry the never-inspect sentinel and must not dilute the aggregate.
func motionPriorities(s *Sequence) []float64 {
	var out []float64
	for _, f := range s.frames {
		if f.Frame.Status == camera.StatusMotion {
			out = append(out, f.Priority)
		}
	}
	return out
}
