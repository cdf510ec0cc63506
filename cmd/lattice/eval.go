package main

import (
	"context"
	"fmt"

	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"
)

func runEval(args []string) error {
	fs, modelPath := newFlagSet("eval")
	var o overrides
	fs.StringVar(&o.checkpoint, "checkpoint", "", "Checkpoint path or gs://bucket/object URL. Overrides the model file.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	o.restore = true

	ctx := context.Background()
	s, err := newSession(ctx, *modelPath, o, nil)
	if err != nil {
		return err
	}

	x, y := s.trainX, s.trainY
	split := "all"
	if s.valX != nil {
		x, y, split = s.valX, s.valY, "validation"
	}
	loss, err := s.model.Eval(x, y)
	if err != nil {
		return err
	}
	fmt.Printf("run %s  epoch %d  %s samples %d  loss %.6f\n",
		s.model.RunID(), s.model.Epoch(), split, x.Shape()[0], loss)

	if s.file.Train.Loss == "mse" {
		return nil
	}
	predictions, err := s.model.Predict(x)
	if err != nil {
		return errors.Wrap(err, "predict")
	}
	fmt.Printf("accuracy %.2f%%\n", 100*accuracy(predictions, y))
	return nil
}

// accuracy compares the arg-max of each row of logits to the class index targets.
func accuracy[B tensor.Backend](logits, targets *tensor.Tensor[float32, B]) float64 {
	s := logits.Shape()
	rows, classes := s[0], s[len(s)-1]
	values, labels := logits.Data(), targets.Data()
	correct := 0
	for i := range rows {
		row := values[i*classes : (i+1)*classes]
		best := 0
		for j, v := range row {
			if v > row[best] {
				best = j
			}
		}
		if float32(best) == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(rows)
}
