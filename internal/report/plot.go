package report

import (
	"fmt"

	"github.com/guptarohit/asciigraph"

	"github.com/psantana5/vrepper/internal/driver"
)

var axisNames = [3]string{"x", "y", "z"}

// PlotOptions selects one coordinate series of a trace.
type PlotOptions struct {
	Object      string
	Orientation bool
	Axis        int // 0, 1 or 2
	Height      int
	Width       int
}

// Caption names the plotted series, e.g. "body position x".
func (o PlotOptions) Caption() string {
	kind := "position"
	if o.Orientation {
		kind = "orientation"
	}
	return fmt.Sprintf("%s %s %s", o.Object, kind, axisNames[o.Axis])
}

// Plot renders one coordinate of a tracked object over the steps of trace.
func Plot(trace *driver.Trace, opts PlotOptions) (string, error) {
	if opts.Axis < 0 || opts.Axis > 2 {
		return "", fmt.Errorf("report: axis %d out of range", opts.Axis)
	}
	data := trace.Series(opts.Object, opts.Orientation, opts.Axis)
	if len(data) == 0 {
		return "", fmt.Errorf("report: no samples for %q", opts.Object)
	}
	if opts.Height <= 0 {
		opts.Height = 10
	}
	if opts.Width <= 0 {
		opts.Width = 80
	}

	return asciigraph.Plot(data,
		asciigraph.Height(opts.Height),
		asciigraph.Width(opts.Width),
		asciigraph.Caption(opts.Caption()),
	), nil
}
