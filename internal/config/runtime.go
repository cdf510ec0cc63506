package config

import (
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"

	"github.com/born-ml/lattice/internal/data"
	"github.com/born-ml/lattice/internal/model"
)

// Dataset loads or generates the dataset named by the data block.
func (f *File) Dataset() (*data.Dataset, error) {
	d := f.Data
	var (
		ds  *data.Dataset
		err error
	)
	switch d.Kind {
	case "xor":
		ds, err = data.XOR(d.Samples, d.Features, uint64(d.Seed))
	case "blobs":
		ds, err = data.Blobs(d.Samples, d.Features, d.Classes, uint64(d.Seed))
	case "csv":
		if d.Path == "" {
			return nil, errors.Errorf("%s: csv data needs a path", f.Filename)
		}
		ds, err = data.LoadCSV(d.Path, d.Targets, d.Samples)
	case "":
		return nil, errors.Errorf("%s: no data block", f.Filename)
	default:
		return nil, errors.Errorf("%s: unknown data kind %q", f.Filename, d.Kind)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s: data", f.Filename)
	}
	return ds, nil
}

// Optimizer creates the optimizer named by the train block over params.
func Optimizer[B tensor.Backend](t Train, params []*nn.Parameter[B], backend B) (optim.Optimizer, error) {
	lr := float32(t.LearningRate)
	switch t.Optimizer {
	case "adam":
		return optim.NewAdam(params, optim.AdamConfig{
			LR:    lr,
			Betas: [2]float32{0.9, 0.999},
			Eps:   1e-8,
		}, backend), nil
	case "sgd":
		return optim.NewSGD(params, optim.SGDConfig{
			LR:       lr,
			Momentum: float32(t.Momentum),
		}, backend), nil
	default:
		return nil, errors.Errorf("unknown optimizer %q (supported: adam, sgd)", t.Optimizer)
	}
}

// Loss returns the loss named by the train block.
func Loss[B tensor.Backend](t Train) (model.Loss[B], error) {
	loss, err := model.LossByName[B](t.Loss)
	return loss, errors.WithStack(err)
}

// Options returns the model options declared by the file.
func (f *File) Options() model.Options {
	return model.Options{
		CheckpointPath:  f.Checkpoint.Path,
		Restore:         f.Checkpoint.Restore,
		CheckpointEvery: f.Checkpoint.Every,
		BatchSize:       f.Train.BatchSize,
		Shuffle:         f.Train.Shuffle == nil || *f.Train.Shuffle,
		Seed:            uint64(f.Train.Seed),
	}
}
