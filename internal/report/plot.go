// Package report renders search loss trajectories: a PNG line plot per
// molecule with gonum/plot and an HTML page for a whole batch with
// go-echarts.
package report

import (
	"fmt"
	"image/color"
	"io"

	"github.com/banshee-data/atomfit/internal/pipeline"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const (
	pngWidth  = 8 * vg.Inch
	pngHeight = 5 * vg.Inch
)

// seriesName labels one search of res.
func seriesName(res *pipeline.MoleculeResult, sr pipeline.SearchResult) string {
	if sr.Channel == pipeline.JointChannel || sr.Channel >= len(res.Channels) {
		return "all channels"
	}
	return res.Channels[sr.Channel].Name
}

// LossPlot plots the accepted loss against atom count for every
// non-trivial search of res.
func LossPlot(res *pipeline.MoleculeResult) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - loss by atom count", res.Name)
	p.X.Label.Text = "Atoms"
	p.Y.Label.Text = "Loss"
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	colors := palette(len(res.Searches))
	for i, sr := range res.Searches {
		if len(sr.Steps) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(sr.Steps))
		for k, st := range sr.Steps {
			pts[k] = plotter.XY{X: float64(st.Atoms), Y: st.Loss}
		}
		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return nil, err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		points.GlyphStyle.Color = colors[i]
		p.Add(line, points)
		p.Legend.Add(seriesName(res, sr), line, points)
	}
	return p, nil
}

// WritePNG renders the loss plot of res as a PNG image.
func WritePNG(w io.Writer, res *pipeline.MoleculeResult) error {
	p, err := LossPlot(res)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(pngWidth, pngHeight, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// palette returns n colors evenly spaced in hue.
func palette(n int) []color.Color {
	out := make([]color.Color, n)
	for i := range out {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		out[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return out
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	return channel(p, q, h+1.0/3.0), channel(p, q, h), channel(p, q, h-1.0/3.0)
}

func channel(p, q, t float64) uint8 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	v := p
	switch {
	case t < 1.0/6.0:
		v = p + (q-p)*6*t
	case t < 1.0/2.0:
		v = q
	case t < 2.0/3.0:
		v = p + (q-p)*(2.0/3.0-t)*6
	}
	return uint8(v * 255)
}
