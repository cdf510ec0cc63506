package data

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/born-ml/born/tensor"
)

// XOR generates a noisy XOR problem.
//
// The first two features are drawn from {0, 1} with Gaussian jitter; any further
// features are pure noise. The target is a single value: 1 when exactly one of the
// first two bits is set, 0 otherwise.
func XOR(samples, features int, seed uint64) (*Dataset, error) {
	if samples <= 0 {
		return nil, fmt.Errorf("xor: samples must be positive, got %d", samples)
	}
	if features < 2 {
		return nil, fmt.Errorf("xor: need at least 2 features, got %d", features)
	}
	rng := rand.New(rand.NewPCG(seed, seed+1))

	ds := &Dataset{
		Inputs:      make([][]float32, samples),
		Targets:     make([][]float32, samples),
		InputShape:  tensor.Shape{features},
		TargetShape: tensor.Shape{1},
	}
	for i := range samples {
		a, b := rng.IntN(2), rng.IntN(2)
		row := make([]float32, features)
		row[0] = float32(a) + 0.1*float32(rng.NormFloat64())
		row[1] = float32(b) + 0.1*float32(rng.NormFloat64())
		for j := 2; j < features; j++ {
			row[j] = float32(rng.NormFloat64())
		}
		ds.Inputs[i] = row
		ds.Targets[i] = []float32{float32(a ^ b)}
	}
	return ds, nil
}

// Blobs generates classes Gaussian clusters in a features-dimensional space.
//
// Cluster centers sit on a circle of radius 3 in the first two dimensions. The target
// is the class index stored as a float32, as CrossEntropy expects.
func Blobs(samples, features, classes int, seed uint64) (*Dataset, error) {
	if samples <= 0 {
		return nil, fmt.Errorf("blobs: samples must be positive, got %d", samples)
	}
	if features < 2 {
		return nil, fmt.Errorf("blobs: need at least 2 features, got %d", features)
	}
	if classes < 2 {
		return nil, fmt.Errorf("blobs: need at least 2 classes, got %d", classes)
	}
	rng := rand.New(rand.NewPCG(seed, seed+1))

	ds := &Dataset{
		Inputs:      make([][]float32, samples),
		Targets:     make([][]float32, samples),
		InputShape:  tensor.Shape{features},
		TargetShape: tensor.Shape{},
	}
	for i := range samples {
		c := i % classes
		angle := 2 * math.Pi * float64(c) / float64(classes)
		row := make([]float32, features)
		for j := range row {
			row[j] = float32(0.5 * rng.NormFloat64())
		}
		row[0] += float32(3 * math.Cos(angle))
		row[1] += float32(3 * math.Sin(angle))
		ds.Inputs[i] = row
		ds.Targets[i] = []float32{float32(c)}
	}
	return ds, nil
}
