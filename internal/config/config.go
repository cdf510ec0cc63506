// Package config loads model files: HCL documents that declare the input shape, the
// layer sequence and how to train it.
//
//	input = [-1, 4]
//
//	layer "branch" {}
//	layer "dense" { units = 3 }
//	layer "close" {}
//	layer "branch" {}
//	layer "dense" { units = 6 }
//	layer "close" {}
//	layer "concat" { axis = 1 }
//
//	train {
//	  epochs        = 10
//	  batch_size    = 16
//	  learning_rate = 0.01
//	  optimizer     = "adam"
//	  loss          = "mse"
//	}
//
//	checkpoint {
//	  path  = "run.born"
//	  every = 5
//	}
//
//	data {
//	  kind    = "xor"
//	  samples = 256
//	}
//
// Layer blocks are compiled in file order. Their attributes are passed to the
// constructor registered for the block label.
package config

import (
	"github.com/born-ml/born/tensor"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/pkg/errors"

	"github.com/born-ml/lattice/internal/compiler"
	"github.com/born-ml/lattice/internal/layer"
	"github.com/born-ml/lattice/internal/layers"
	"github.com/born-ml/lattice/internal/shape"
)

// File is a decoded model file.
type File struct {
	Filename   string
	Input      []int
	Layers     []Layer
	Train      Train
	Checkpoint Checkpoint
	Data       Data
}

// Layer is one declared layer block.
type Layer struct {
	Kind  string
	Attrs layers.Attrs
}

// Train configures training.
type Train struct {
	Epochs       int     `hcl:"epochs,optional"`
	BatchSize    int     `hcl:"batch_size,optional"`
	LearningRate float64 `hcl:"learning_rate,optional"`
	Optimizer    string  `hcl:"optimizer,optional"`
	Momentum     float64 `hcl:"momentum,optional"`
	Loss         string  `hcl:"loss,optional"`
	Shuffle      *bool   `hcl:"shuffle,optional"`
	Seed         int     `hcl:"seed,optional"`
}

// Checkpoint configures where training state is persisted.
type Checkpoint struct {
	Path    string `hcl:"path,optional"`
	Restore bool   `hcl:"restore,optional"`
	Every   int    `hcl:"every,optional"`
}

// Data selects the dataset a model trains and evaluates on.
type Data struct {
	Kind       string  `hcl:"kind"` // "xor", "blobs" or "csv"
	Samples    int     `hcl:"samples,optional"`
	Features   int     `hcl:"features,optional"`
	Classes    int     `hcl:"classes,optional"`
	Seed       int     `hcl:"seed,optional"`
	Path       string  `hcl:"path,optional"`
	Targets    int     `hcl:"targets,optional"`
	Validation float64 `hcl:"validation,optional"`
}

type hclFile struct {
	Input      []int       `hcl:"input"`
	Layers     []*hclLayer `hcl:"layer,block"`
	Train      *Train      `hcl:"train,block"`
	Checkpoint *Checkpoint `hcl:"checkpoint,block"`
	Data       *Data       `hcl:"data,block"`
}

type hclLayer struct {
	Kind string   `hcl:"kind,label"`
	Body hcl.Body `hcl:",remain"`
}

// Load parses the model file at path.
func Load(path string) (*File, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "failed to parse model file %s", path)
	}
	return decode(path, f.Body)
}

// Parse parses a model file held in memory. filename is used in diagnostics.
func Parse(src []byte, filename string) (*File, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "failed to parse model file %s", filename)
	}
	return decode(filename, f.Body)
}

func decode(filename string, body hcl.Body) (*File, error) {
	var raw hclFile
	if diags := gohcl.DecodeBody(body, nil, &raw); diags.HasErrors() {
		return nil, errors.Wrapf(diags, "failed to decode model file %s", filename)
	}
	f := &File{Filename: filename, Input: raw.Input}
	for i, l := range raw.Layers {
		attrs, err := decodeAttrs(l.Body)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: layer %d (%q)", filename, i, l.Kind)
		}
		f.Layers = append(f.Layers, Layer{Kind: l.Kind, Attrs: attrs})
	}
	if raw.Train != nil {
		f.Train = *raw.Train
	}
	if raw.Checkpoint != nil {
		f.Checkpoint = *raw.Checkpoint
	}
	if raw.Data != nil {
		f.Data = *raw.Data
	}
	f.applyDefaults()
	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func decodeAttrs(body hcl.Body) (layers.Attrs, error) {
	hclAttrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}
	attrs := make(layers.Attrs, len(hclAttrs))
	for name, attr := range hclAttrs {
		v, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, diags
		}
		native, err := ctyToNative(v)
		if err != nil {
			return nil, errors.Wrapf(err, "attribute %q", name)
		}
		attrs[name] = native
	}
	return attrs, nil
}

func (f *File) applyDefaults() {
	t := &f.Train
	if t.Epochs == 0 {
		t.Epochs = 10
	}
	if t.BatchSize == 0 {
		t.BatchSize = 32
	}
	if t.LearningRate == 0 {
		t.LearningRate = 0.01
	}
	if t.Optimizer == "" {
		t.Optimizer = "adam"
	}
	if t.Loss == "" {
		t.Loss = "mse"
	}
	if t.Shuffle == nil {
		shuffle := true
		t.Shuffle = &shuffle
	}

	d := &f.Data
	if d.Samples == 0 {
		d.Samples = 256
	}
	if d.Features == 0 && len(f.Input) == 2 {
		d.Features = f.Input[1]
	}
	if d.Classes == 0 {
		d.Classes = 2
	}
	if d.Targets == 0 {
		d.Targets = 1
	}
}

func (f *File) validate() error {
	if len(f.Input) == 0 {
		return errors.Errorf("%s: input shape is empty", f.Filename)
	}
	for i, d := range f.Input {
		if d <= 0 && !(i == 0 && d == shape.Batch) {
			return errors.Errorf("%s: input dimension %d is %d; only the first may be %d", f.Filename, i, d, shape.Batch)
		}
	}
	if f.Train.Epochs < 0 || f.Train.BatchSize < 0 || f.Train.LearningRate < 0 {
		return errors.Errorf("%s: train settings must not be negative", f.Filename)
	}
	if f.Checkpoint.Every < 0 {
		return errors.Errorf("%s: checkpoint every must not be negative", f.Filename)
	}
	if f.Checkpoint.Restore && f.Checkpoint.Path == "" {
		return errors.Errorf("%s: checkpoint restore requires a path", f.Filename)
	}
	if f.Data.Validation < 0 || f.Data.Validation >= 1 {
		return errors.Errorf("%s: data validation ratio must be in [0, 1), got %g", f.Filename, f.Data.Validation)
	}
	return nil
}

// InputShape returns the declared input shape.
func (f *File) InputShape() tensor.Shape {
	return append(tensor.Shape(nil), f.Input...)
}

// Specs creates one spec per declared layer, in file order.
func Specs[B tensor.Backend](f *File, registry *layers.Registry[B]) ([]*layer.Spec[B], error) {
	specs := make([]*layer.Spec[B], 0, len(f.Layers))
	for i, l := range f.Layers {
		s, err := registry.New(l.Kind, l.Attrs)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: layer %d", f.Filename, i)
		}
		specs = append(specs, s)
	}
	return specs, nil
}

// Compile creates the declared layers with the bundled registry and compiles them.
// Compilation errors are returned unwrapped so callers can inspect their type.
func Compile[B tensor.Backend](f *File, backend B) (*compiler.Graph[B], error) {
	specs, err := Specs(f, layers.NewRegistry[B]())
	if err != nil {
		return nil, err
	}
	return compiler.Compile(backend, specs, f.InputShape())
}
