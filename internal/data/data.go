// Package data holds in-memory datasets and splits them into mini-batches.
package data

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/born/tensor"

	"github.com/born-ml/lattice/internal/parallel"
)

// Dataset holds samples as flat float32 rows.
type Dataset struct {
	Inputs  [][]float32 // [num_samples][prod(InputShape)]
	Targets [][]float32 // [num_samples][prod(TargetShape)]

	InputShape  tensor.Shape // per-sample shape, without the batch axis
	TargetShape tensor.Shape
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.Inputs)
}

// Validate checks that every row has the size its shape promises.
func (d *Dataset) Validate() error {
	if len(d.Inputs) != len(d.Targets) {
		return fmt.Errorf("dataset has %d inputs but %d targets", len(d.Inputs), len(d.Targets))
	}
	in, out := d.InputShape.NumElements(), d.TargetShape.NumElements()
	for i := range d.Inputs {
		if len(d.Inputs[i]) != in {
			return fmt.Errorf("input row %d: got %d values, want %d", i, len(d.Inputs[i]), in)
		}
		if len(d.Targets[i]) != out {
			return fmt.Errorf("target row %d: got %d values, want %d", i, len(d.Targets[i]), out)
		}
	}
	return nil
}

// Split splits the dataset into training and validation parts.
func (d *Dataset) Split(validationRatio float32) (*Dataset, *Dataset) {
	splitIdx := int(float32(d.Len()) * (1.0 - validationRatio))
	train := *d
	val := *d
	train.Inputs, train.Targets = d.Inputs[:splitIdx], d.Targets[:splitIdx]
	val.Inputs, val.Targets = d.Inputs[splitIdx:], d.Targets[splitIdx:]
	return &train, &val
}

// Tensors packs the whole dataset into one input and one target tensor with a leading
// batch axis.
func Tensors[B tensor.Backend](d *Dataset, backend B) (inputs, targets *tensor.Tensor[float32, B], err error) {
	if err := d.Validate(); err != nil {
		return nil, nil, err
	}
	if d.Len() == 0 {
		return nil, nil, fmt.Errorf("dataset is empty")
	}
	inputs, err = tensor.FromSlice(flatten(d.Inputs), withBatch(d.Len(), d.InputShape), backend)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create inputs tensor: %w", err)
	}
	targets, err = tensor.FromSlice(flatten(d.Targets), withBatch(d.Len(), d.TargetShape), backend)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create targets tensor: %w", err)
	}
	return inputs, targets, nil
}

// Batch is one mini-batch of inputs and targets.
type Batch[B tensor.Backend] struct {
	Inputs  *tensor.Tensor[float32, B]
	Targets *tensor.Tensor[float32, B]
	Size    int
}

// Batches splits inputs and targets along their first axis into batches of at most
// batchSize samples. With shuffle set, samples are permuted with a generator seeded
// by seed; otherwise the original order is kept. batchSize <= 0 yields one batch.
//
// The returned tensors are copies; the caller's tensors are not modified.
func Batches[B tensor.Backend](
	inputs, targets *tensor.Tensor[float32, B],
	batchSize int,
	shuffle bool,
	seed uint64,
) ([]*Batch[B], error) {
	inShape, outShape := inputs.Shape(), targets.Shape()
	if len(inShape) == 0 || len(outShape) == 0 {
		return nil, fmt.Errorf("inputs and targets need a batch axis, got %v and %v", inShape, outShape)
	}
	numSamples := inShape[0]
	if outShape[0] != numSamples {
		return nil, fmt.Errorf("inputs have %d samples but targets have %d", numSamples, outShape[0])
	}
	if batchSize <= 0 || batchSize > numSamples {
		batchSize = numSamples
	}

	indices := make([]int, numSamples)
	for i := range indices {
		indices[i] = i
	}
	if shuffle {
		rng := rand.New(rand.NewPCG(seed, seed+1))
		rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	inRow, outRow := rowSize(inShape), rowSize(outShape)
	inData, outData := inputs.Data(), targets.Data()
	backend := inputs.Backend()

	numBatches := (numSamples + batchSize - 1) / batchSize
	batches := make([]*Batch[B], 0, numBatches)
	for i := 0; i < numSamples; i += batchSize {
		end := min(i+batchSize, numSamples)
		n := end - i

		x := make([]float32, n*inRow)
		y := make([]float32, n*outRow)
		rows := indices[i:end]
		parallel.Chunks(n, parallel.MinChunk, func(start, stop int) {
			for j := start; j < stop; j++ {
				idx := rows[j]
				copy(x[j*inRow:(j+1)*inRow], inData[idx*inRow:(idx+1)*inRow])
				copy(y[j*outRow:(j+1)*outRow], outData[idx*outRow:(idx+1)*outRow])
			}
		})

		xt, err := tensor.FromSlice(x, withBatch(n, inShape[1:]), backend)
		if err != nil {
			return nil, fmt.Errorf("failed to create inputs tensor: %w", err)
		}
		yt, err := tensor.FromSlice(y, withBatch(n, outShape[1:]), backend)
		if err != nil {
			return nil, fmt.Errorf("failed to create targets tensor: %w", err)
		}
		batches = append(batches, &Batch[B]{Inputs: xt, Targets: yt, Size: n})
	}
	return batches, nil
}

func rowSize(s tensor.Shape) int {
	n := 1
	for _, d := range s[1:] {
		n *= d
	}
	return n
}

func withBatch(n int, sample tensor.Shape) tensor.Shape {
	return append(tensor.Shape{n}, sample...)
}

func flatten(rows [][]float32) []float32 {
	size := 0
	for _, r := range rows {
		size += len(r)
	}
	out := make([]float32, 0, size)
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}
