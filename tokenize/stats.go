package tokenize

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"slices"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// SequenceLengths returns the number of input ids of each example.
func SequenceLengths(enc Encoding) []int {
	ids := enc[InputIDs]
	out := make([]int, len(ids))
	for i, seq := range ids {
		out[i] = len(seq)
	}
	return out
}

// LengthStats summarizes a sequence length distribution.
type LengthStats struct {
	Count int     `json:"count" yaml:"count"`
	Min   int     `json:"min" yaml:"min"`
	Max   int     `json:"max" yaml:"max"`
	Mean  float64 `json:"mean" yaml:"mean"`
	P50   float64 `json:"p50" yaml:"p50"`
	P95   float64 `json:"p95" yaml:"p95"`

	// AtLimit counts the sequences that reached maxLength, i.e. those that
	// were most likely truncated.
	AtLimit int `json:"at_limit" yaml:"at_limit"`
}

// ComputeLengthStats summarizes lengths. maxLength <= 0 disables AtLimit.
func ComputeLengthStats(lengths []int, maxLength int) LengthStats {
	if len(lengths) == 0 {
		return LengthStats{}
	}
	xs := make([]float64, len(lengths))
	for i, l := range lengths {
		xs[i] = float64(l)
	}
	slices.Sort(xs)

	s := LengthStats{
		Count: len(lengths),
		Min:   int(xs[0]),
		Max:   int(xs[len(xs)-1]),
		Mean:  stat.Mean(xs, nil),
		P50:   stat.Quantile(0.5, stat.Empirical, xs, nil),
		P95:   stat.Quantile(0.95, stat.Empirical, xs, nil),
	}
	if maxLength > 0 {
		for _, l := range lengths {
			if l >= maxLength {
				s.AtLimit++
			}
		}
	}
	return s
}

// PlotLengths writes a PNG histogram of lengths to path, with a vertical
// marker at maxLength when it is positive.
func PlotLengths(path string, lengths []int, maxLength int) error {
	if len(lengths) == 0 {
		return errors.New("no sequence lengths to plot")
	}
	values := make(plotter.Values, len(lengths))
	for i, l := range lengths {
		values[i] = float64(l)
	}

	p := plot.New()
	p.Title.Text = "Tokenized sequence lengths"
	p.X.Label.Text = "tokens"
	p.Y.Label.Text = "examples"

	bins := min(len(lengths), 50)
	hist, err := plotter.NewHist(values, bins)
	if err != nil {
		return fmt.Errorf("failed to build histogram: %w", err)
	}
	hist.FillColor = color.RGBA{R: 20, G: 80, B: 200, A: 180}
	p.Add(hist, plotter.NewGrid())

	if maxLength > 0 {
		_, _, _, top := hist.DataRange()
		limit, err := plotter.NewLine(plotter.XYs{
			{X: float64(maxLength), Y: 0},
			{X: float64(maxLength), Y: top},
		})
		if err != nil {
			return err
		}
		limit.Color = color.RGBA{R: 200, G: 30, B: 30, A: 220}
		limit.Width = vg.Points(1.2)
		p.Add(limit)
		p.Legend.Add(fmt.Sprintf("max_length=%d", maxLength), limit)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot to %s: %w", path, err)
	}
	return nil
}
