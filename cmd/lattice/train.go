package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/born-ml/lattice/internal/compiler"
	"github.com/born-ml/lattice/internal/config"
	"github.com/born-ml/lattice/internal/data"
	"github.com/born-ml/lattice/internal/model"
)

// session is a compiled model file bound to its data and a Model.
type session struct {
	file  *config.File
	graph *compiler.Graph[Backend]
	model *model.Model[Backend]

	trainX, trainY *tensor.Tensor[float32, Backend]
	valX, valY     *tensor.Tensor[float32, Backend] // nil without a validation split
}

type overrides struct {
	epochs     int
	checkpoint string
	restore    bool
}

func newSession(ctx context.Context, path string, o overrides, opts func(*model.Options)) (*session, error) {
	backend := autodiff.New(cpu.New())
	f, g, err := load(path, backend)
	if err != nil {
		return nil, err
	}
	if o.epochs > 0 {
		f.Train.Epochs = o.epochs
	}
	if o.checkpoint != "" {
		f.Checkpoint.Path = o.checkpoint
	}
	if o.restore {
		f.Checkpoint.Restore = true
	}
	if f.Checkpoint.Restore && f.Checkpoint.Path == "" {
		return nil, errors.New("restoring requires a checkpoint path")
	}

	ds, err := f.Dataset()
	if err != nil {
		return nil, err
	}
	s := &session{file: f, graph: g}
	trainSet := ds
	if f.Data.Validation > 0 {
		var valSet *data.Dataset
		trainSet, valSet = ds.Split(float32(f.Data.Validation))
		if valSet.Len() > 0 {
			if s.valX, s.valY, err = data.Tensors(valSet, backend); err != nil {
				return nil, errors.Wrap(err, "validation data")
			}
		}
	}
	if s.trainX, s.trainY, err = data.Tensors(trainSet, backend); err != nil {
		return nil, errors.Wrap(err, "training data")
	}

	opt, err := config.Optimizer(f.Train, g.Parameters(), backend)
	if err != nil {
		return nil, err
	}
	loss, err := config.Loss[Backend](f.Train)
	if err != nil {
		return nil, err
	}
	options := f.Options()
	if opts != nil {
		opts(&options)
	}
	s.model, err = model.New[Backend](ctx, g, loss, opt, model.NewTapeEngine(backend), options)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func runTrain(args []string) error {
	fs, modelPath := newFlagSet("train")
	var o overrides
	fs.IntVar(&o.epochs, "epochs", 0, "Number of epochs to train. Overrides the model file if > 0.")
	fs.StringVar(&o.checkpoint, "checkpoint", "", "Checkpoint path or gs://bucket/object URL. Overrides the model file.")
	fs.BoolVar(&o.restore, "restore", false, "Resume from the checkpoint.")
	quiet := fs.Bool("quiet", false, "Do not display a progress bar.")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var bar *progressbar.ProgressBar
	s, err := newSession(ctx, *modelPath, o, func(opts *model.Options) {
		if *quiet {
			return
		}
		opts.OnBatch = func(b model.BatchStats) {
			if b.Batch == 0 {
				bar = newEpochBar(b.Epoch, b.Batches)
			}
			bar.Describe(fmt.Sprintf("epoch %d loss %.4f", b.Epoch, b.Loss))
			_ = bar.Add(1)
		}
	})
	if err != nil {
		return err
	}

	m := s.model
	klog.Infof("training %s for %d epochs (run %s, starting after epoch %d)",
		s.file.Filename, s.file.Train.Epochs, m.RunID(), m.Epoch())

	history, err := m.Fit(ctx, s.trainX, s.trainY, s.file.Train.Epochs)
	for _, e := range history.Epochs {
		fmt.Printf("epoch %3d  loss %.6f  lr %g  %s\n", e.Epoch, e.Loss, e.LearningRate, e.Duration.Round(time.Millisecond))
	}
	if err != nil {
		if ctx.Err() == nil {
			return err
		}
		if saveErr := saveInterrupted(m, s.file.Checkpoint.Path); saveErr != nil {
			return saveErr
		}
		return err
	}

	if s.valX != nil {
		loss, err := m.Eval(s.valX, s.valY)
		if err != nil {
			return errors.Wrap(err, "validation")
		}
		fmt.Printf("validation loss %.6f\n", loss)
	}
	if path := s.file.Checkpoint.Path; path != "" {
		fmt.Printf("checkpoint written to %s\n", path)
	}
	return nil
}

type saver interface {
	Save(ctx context.Context) error
}

// saveInterrupted writes a checkpoint for a run stopped by a signal.
// It does nothing when the run has no checkpoint path.
func saveInterrupted(m saver, path string) error {
	if path == "" {
		klog.Warning("training interrupted, no checkpoint path configured")
		return nil
	}
	klog.Warningf("training interrupted, saving checkpoint to %s", path)
	if err := m.Save(context.Background()); err != nil {
		return errors.Wrap(err, "failed to save after interrupt")
	}
	return nil
}

func newEpochBar(epoch, batches int) *progressbar.ProgressBar {
	return progressbar.NewOptions(batches,
		progressbar.OptionSetDescription(fmt.Sprintf("epoch %d", epoch)),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionShowIts(),
		progressbar.OptionClearOnFinish(),
	)
}
