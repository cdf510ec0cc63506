// Package main provides the lattice CLI: inspect, train and evaluate models declared
// in HCL model files.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/lattice/internal/compiler"
	"github.com/born-ml/lattice/internal/config"
)

const version = "v0.1.0-dev"

// Backend is the backend every command runs on.
type Backend = *autodiff.Backend[*cpu.Backend]

type command struct {
	name  string
	usage string
	run   func(args []string) error
}

var commands = []command{
	{"version", "Show version", runVersion},
	{"summary", "Print the compiled layers of a model file", runSummary},
	{"train", "Train a model and write checkpoints", runTrain},
	{"eval", "Evaluate a checkpointed model", runEval},
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	name := os.Args[1]
	for _, c := range commands {
		if c.name != name {
			continue
		}
		err := c.run(os.Args[2:])
		klog.Flush()
		if err != nil {
			fmt.Fprintf(os.Stderr, "lattice %s: %v\n", name, err)
			klog.V(1).Infof("%+v", err)
			os.Exit(1)
		}
		return
	}
	if name != "help" && name != "-h" && name != "--help" {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
	}
	usage()
	os.Exit(2)
}

func usage() {
	fmt.Println("lattice - branch-aware layer graphs for Born")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	for _, c := range commands {
		fmt.Printf("  %-10s %s\n", c.name, c.usage)
	}
	fmt.Println("\nRun 'lattice <command> -h' for the flags of a command.")
}

func runVersion([]string) error {
	fmt.Printf("lattice %s\n", version)
	return nil
}

// newFlagSet creates the flag set of a command with the shared -model flag and the
// klog flags registered.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet("lattice "+name, flag.ContinueOnError)
	modelPath := fs.String("model", "model.hcl", "HCL model file.")
	klog.InitFlags(fs)
	return fs, modelPath
}

// load reads the model file and compiles its layers.
func load(path string, backend Backend) (*config.File, *compiler.Graph[Backend], error) {
	f, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	g, err := config.Compile(f, backend)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to compile %s", path)
	}
	return f, g, nil
}
