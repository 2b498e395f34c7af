package quote

import (
	"bytes"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/models"
)

var (
	sparklineUp   = drawing.Color{R: 34, G: 139, B: 34, A: 255}
	sparklineDown = drawing.Color{R: 178, G: 34, B: 34, A: 255}
)

// RenderSparkline draws the quote's sparkline as a PNG, colored by the
// direction of the move over the series.
func (s *Service) RenderSparkline(quote *models.Quote, width, height int) ([]byte, error) {
	if quote == nil || len(quote.Sparkline) < 2 {
		return nil, common.NewError(common.KindValidation, "sparkline needs at least two points")
	}
	if width <= 0 {
		width = 240
	}
	if height <= 0 {
		height = 60
	}

	xs := make([]float64, len(quote.Sparkline))
	for i := range xs {
		xs[i] = float64(i)
	}

	color := sparklineUp
	if quote.Sparkline[len(quote.Sparkline)-1] < quote.Sparkline[0] {
		color = sparklineDown
	}

	graph := chart.Chart{
		Width:  width,
		Height: height,
		XAxis:  chart.XAxis{Style: chart.Hidden()},
		YAxis:  chart.YAxis{Style: chart.Hidden()},
		Background: chart.Style{
			Padding: chart.Box{Top: 2, Left: 2, Right: 2, Bottom: 2},
		},
		Canvas: chart.Style{FillColor: drawing.ColorTransparent},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Style: chart.Style{
					StrokeColor: color,
					StrokeWidth: 1.5,
				},
				XValues: xs,
				YValues: quote.Sparkline,
			},
		},
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, common.WrapError(common.KindInternal, "render sparkline", err)
	}

	return buf.Bytes(), nil
}
