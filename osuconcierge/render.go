package osuconcierge

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	rankGraphWidth  = 800
	rankGraphHeight = 400

	// the title is drawn above the chart, in its own band
	rankGraphHeaderHeight = 24

	rankGraphYTicks = 5
)

var (
	ErrNoRankHistory = errors.New("no rank history to graph")

	graphBackground = drawing.Color{R: 0x1e, G: 0x1f, B: 0x22, A: 0xff}
	graphGrid       = drawing.Color{R: 0x3a, G: 0x3c, B: 0x42, A: 0xff}
	graphLine       = drawing.Color{R: 0xff, G: 0x66, B: 0xaa, A: 0xff}
	graphText       = drawing.Color{R: 0xdb, G: 0xde, B: 0xe1, A: 0xff}
)

// rankPoint is a day's global rank, with day 0 being the oldest day
// in the graphed range
type rankPoint struct {
	Day  int
	Rank int
}

// rankPoints returns the last `days` entries of the history, dropping
// days the user was unranked
func rankPoints(history []int, days int) []rankPoint {
	if days <= 0 || days > len(history) {
		days = len(history)
	}
	window := history[len(history)-days:]
	rv := make([]rankPoint, 0, len(window))
	for i, rank := range window {
		if rank <= 0 {
			continue
		}
		rv = append(rv, rankPoint{Day: i, Rank: rank})
	}
	return rv
}

func rankBounds(points []rankPoint) (best int, worst int) {
	best, worst = points[0].Rank, points[0].Rank
	for _, p := range points[1:] {
		best = min(best, p.Rank)
		worst = max(worst, p.Rank)
	}
	return best, worst
}

// rankTicks labels the y axis from best to worst rank. Narrow ranges
// get fewer ticks rather than repeated ones.
func rankTicks(best int, worst int) []chart.Tick {
	ticks := make([]chart.Tick, 0, rankGraphYTicks)
	for i := range rankGraphYTicks {
		rank := best + i*(worst-best)/(rankGraphYTicks-1)
		if len(ticks) > 0 && ticks[len(ticks)-1].Value == float64(rank) {
			continue
		}
		ticks = append(ticks, chart.Tick{Value: float64(rank), Label: "#" + formatInt(rank)})
	}
	return ticks
}

// renderRankGraph draws the user's global rank over the given number
// of days as a PNG. Better ranks are drawn higher.
func renderRankGraph(title string, history []int, days int) ([]byte, error) {
	points := rankPoints(history, days)
	if len(points) == 0 {
		return nil, ErrNoRankHistory
	}
	if days <= 0 || days > len(history) {
		days = len(history)
	}
	best, worst := rankBounds(points)
	if best == worst {
		best = max(1, best-1)
		worst++
	}

	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = float64(p.Day)
		ys[i] = float64(p.Rank)
	}

	lastDay := max(1, days-1)
	axisStyle := chart.Style{
		StrokeColor: graphGrid,
		StrokeWidth: 1,
		FontColor:   graphText,
		FontSize:    9,
	}
	series := chart.ContinuousSeries{
		Name:    "rank",
		XValues: xs,
		YValues: ys,
		Style: chart.Style{
			StrokeColor: graphLine,
			StrokeWidth: 3,
		},
	}
	// a lone ranked day has no line to stroke
	if len(points) == 1 {
		series.Style.DotColor = graphLine
		series.Style.DotWidth = 4
	}

	graph := chart.Chart{
		Width:      rankGraphWidth,
		Height:     rankGraphHeight - rankGraphHeaderHeight,
		Background: chart.Style{FillColor: graphBackground, Padding: chart.Box{Top: 10, Left: 20, Right: 10, Bottom: 10}},
		Canvas:     chart.Style{FillColor: graphBackground},
		XAxis: chart.XAxis{
			Style: axisStyle,
			Range: &chart.ContinuousRange{},
			Ticks: []chart.Tick{
				{Value: 0, Label: fmt.Sprintf("%d days ago", days-1)},
				{Value: float64(lastDay), Label: "today"},
			},
		},
		YAxis: chart.YAxis{
			Style:          axisStyle,
			Range:          &chart.ContinuousRange{Descending: true},
			Ticks:          rankTicks(best, worst),
			GridMajorStyle: chart.Style{StrokeColor: graphGrid, StrokeWidth: 1},
		},
		Series: []chart.Series{series},
	}

	iw := &chart.ImageWriter{}
	if err := graph.Render(chart.PNG, iw); err != nil {
		return nil, fmt.Errorf("error rendering graph: %w", err)
	}
	plot, err := iw.Image()
	if err != nil {
		return nil, fmt.Errorf("error rendering graph: %w", err)
	}

	out := image.NewRGBA(image.Rect(0, 0, rankGraphWidth, rankGraphHeight))
	draw.Draw(out, out.Bounds(), image.NewUniform(graphBackground), image.Point{}, draw.Src)
	draw.Draw(
		out,
		image.Rect(0, rankGraphHeaderHeight, rankGraphWidth, rankGraphHeight),
		plot,
		plot.Bounds().Min,
		draw.Src,
	)
	drawText(out, 20, rankGraphHeaderHeight-6, title, graphText)

	var buf bytes.Buffer
	if err = png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("error encoding graph: %w", err)
	}
	return buf.Bytes(), nil
}

// drawText writes s with its baseline at y, in a bitmap font
func drawText(img draw.Image, x int, y int, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}
