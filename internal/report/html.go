package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/banshee-data/atomfit/internal/pipeline"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WriteHTML renders a batch page: a bar chart of the final loss and the
// per-channel atom counts of every molecule, followed by one loss
// trajectory chart per molecule.
func WriteHTML(w io.Writer, results []*pipeline.MoleculeResult) error {
	page := components.NewPage()
	page.PageTitle = "atomfit loss report"
	page.AddCharts(summaryBar(results))
	for _, res := range results {
		page.AddCharts(trajectoryLine(res))
	}
	return page.Render(w)
}

func summaryBar(results []*pipeline.MoleculeResult) *charts.Bar {
	names := make([]string, len(results))
	loss := make([]opts.BarData, len(results))
	for i, res := range results {
		names[i] = res.Name
		loss[i] = opts.BarData{Value: res.Loss}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Final loss", Subtitle: fmt.Sprintf("molecules=%d", len(results))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).AddSeries("loss", loss)
	for _, s := range channelCounts(results) {
		data := make([]opts.BarData, len(s.counts))
		for i, n := range s.counts {
			data[i] = opts.BarData{Value: n}
		}
		bar.AddSeries("atoms "+s.name, data)
	}
	return bar
}

type countSeries struct {
	name   string
	counts []int
}

// channelCounts returns the fitted atom count of every molecule per
// channel of the batch. Molecules of a batch share their channels.
func channelCounts(results []*pipeline.MoleculeResult) []countSeries {
	if len(results) == 0 {
		return nil
	}
	channels := results[0].Channels
	out := make([]countSeries, len(channels))
	for c, ch := range channels {
		out[c] = countSeries{name: ch.Name, counts: make([]int, len(results))}
	}
	for i, res := range results {
		for c, n := range res.Set.Count(len(channels)) {
			out[c].counts[i] = n
		}
	}
	return out
}

func trajectoryLine(res *pipeline.MoleculeResult) *charts.Line {
	longest := 0
	for _, sr := range res.Searches {
		longest = max(longest, len(sr.Steps))
	}
	steps := make([]string, longest)
	for k := range steps {
		steps[k] = strconv.Itoa(k)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: res.Name, Subtitle: fmt.Sprintf("atoms=%d loss=%.5f", res.Set.Len(), res.Loss)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Step", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Loss"}),
	)
	line.SetXAxis(steps)
	for _, sr := range res.Searches {
		if len(sr.Steps) == 0 {
			continue
		}
		data := make([]opts.LineData, len(sr.Steps))
		for k, st := range sr.Steps {
			data[k] = opts.LineData{Value: st.Loss}
		}
		line.AddSeries(seriesName(res, sr), data)
	}
	return line
}
