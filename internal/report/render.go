package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/cabreplay/internal/replay"
)

// statusColors are the default series colours, indexed by status code.
var statusColors = [...]string{"#9e9e9e", "#2e7d32", "#f9a825", "#c62828"}

// Render writes an HTML page with the fleet's status counts and centroid
// over simulation time.
func Render(w io.Writer, title string, sum Summary) error {
	x := make([]string, len(sum.Samples))
	for i, s := range sum.Samples {
		x[i] = strconv.FormatFloat(s.SimTime, 'g', -1, 64)
	}

	subtitle := fmt.Sprintf("blocks=%d agents=%d", len(sum.Samples), sum.Final().Agents)
	switch {
	case sum.Err != nil:
		subtitle += " failed: " + sum.Err.Error()
	case !sum.Complete:
		subtitle += " (incomplete)"
	}

	occupancy := charts.NewLine()
	occupancy.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "sim time", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "cabs"}),
	)
	occupancy.SetXAxis(x)
	for _, st := range replay.Statuses() {
		data := make([]opts.LineData, len(sum.Samples))
		for i, s := range sum.Samples {
			data[i] = opts.LineData{Value: s.Counts[st]}
		}
		occupancy.AddSeries(st.String(), data,
			charts.WithItemStyleOpts(opts.ItemStyle{Color: statusColors[st]}),
			charts.WithLineStyleOpts(opts.LineStyle{Color: statusColors[st]}),
		)
	}

	centroid := charts.NewLine()
	centroid.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Fleet centroid", Subtitle: "mean ± std dev, degrees"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	centroid.SetXAxis(x)
	lat := make([]opts.LineData, len(sum.Samples))
	lon := make([]opts.LineData, len(sum.Samples))
	for i, s := range sum.Samples {
		lat[i] = opts.LineData{Value: s.MeanLatitude}
		lon[i] = opts.LineData{Value: s.MeanLongitude}
	}
	centroid.AddSeries("latitude", lat).AddSeries("longitude", lon)

	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(occupancy, centroid)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}
