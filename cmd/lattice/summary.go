package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/born-ml/lattice/internal/compiler"
	"github.com/born-ml/lattice/internal/shape"
)

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	headerStyle       = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	tableBorderColor  = "#705090"
)

func runSummary(args []string) error {
	fs, modelPath := newFlagSet("summary")
	if err := fs.Parse(args); err != nil {
		return err
	}
	f, g, err := load(*modelPath, autodiff.New(cpu.New()))
	if err != nil {
		return err
	}
	fmt.Printf("%s: input %s\n", f.Filename, shape.String(g.InputShape()))
	writeSummary(os.Stdout, g)
	return nil
}

// writeSummary prints one table row per compiled layer, followed by the totals.
func writeSummary(w io.Writer, g *compiler.Graph[Backend]) {
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		Headers("#", "Layer", "Depth", "Output", "Params").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerStyle
			case col == 0 || col == 2 || col == 4:
				return rightAlignedStyle
			}
			return normalStyle
		})

	for _, r := range g.Records() {
		params := ""
		if r.Elements > 0 {
			params = humanize.Comma(int64(r.Elements))
		}
		table.Row(
			strconv.Itoa(r.Position),
			strings.Repeat("  ", r.Depth)+r.Layer,
			strconv.Itoa(r.Depth),
			shape.String(r.Out),
			params,
		)
	}
	fmt.Fprintln(w, table.String())

	n := g.NumElements()
	fmt.Fprintf(w, "Output: %s\n", shape.String(g.OutputShape()))
	fmt.Fprintf(w, "Parameters: %s tensors, %s elements (%s)\n",
		humanize.Comma(int64(len(g.Parameters()))),
		humanize.Comma(int64(n)),
		humanize.Bytes(uint64(n)*4))
}
