package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/davidroman0O/stagequeue/internal/scenario"
	"github.com/fatih/color"
	dto "github.com/prometheus/client_model/go"
)

type printer struct {
	w      io.Writer
	bold   *color.Color
	dim    *color.Color
	green  *color.Color
	red    *color.Color
	cyan   *color.Color
	yellow *color.Color
}

func newPrinter(w io.Writer) *printer {
	return &printer{
		w:      w,
		bold:   color.New(color.Bold),
		dim:    color.New(color.Faint),
		green:  color.New(color.FgGreen),
		red:    color.New(color.FgRed, color.Bold),
		cyan:   color.New(color.FgCyan),
		yellow: color.New(color.FgYellow),
	}
}

func (p *printer) header(name string) {
	fprintf(p.w, "%s\n", p.bold.Sprintf("Scenario %s", name))
}

func (p *printer) result(res *scenario.Result) {
	status := p.green.Sprint("ok")
	if res.Err != nil {
		status = p.red.Sprint("failed")
	}
	fprintf(p.w, "\nProject %s (%s)\n", p.bold.Sprint(res.Report.Project), status)

	for _, e := range res.Report.Events {
		indent := strings.Repeat("  ", e.Depth+1)
		switch e.Kind {
		case scenario.EventPlugin:
			fprintf(p.w, "%splugin   %s\n", indent, p.cyan.Sprint(e.Name))
		case scenario.EventListener:
			fprintf(p.w, "%slistener %s\n", indent, p.cyan.Sprint(e.Name))
		case scenario.EventStart:
			mode := "drain"
			if e.Inline {
				mode = "inline"
			}
			fprintf(p.w, "%s> %s %s\n", indent, e.Name, p.dim.Sprintf("[%s #%d %s]", e.Stage, e.Seq, mode))
		case scenario.EventEnd:
			fprintf(p.w, "%s< %s\n", indent, e.Name)
		case scenario.EventFail:
			fprintf(p.w, "%s! %s\n", indent, p.red.Sprint(e.Name))
		case scenario.EventStageCompleted:
			fprintf(p.w, "%s= %s\n", indent, p.yellow.Sprintf("%s completed (%d actions)", e.Stage, e.Count))
		}
	}

	s := res.Report.Stats
	fprintf(p.w, "  %s\n", p.dim.Sprintf("scheduled=%d drained=%d inline=%d", s.Scheduled, s.Drained, s.Inline))
	if res.Err != nil {
		fprintf(p.w, "  %s\n", p.red.Sprint(res.Err))
	}
}

// metrics prints every gathered sample; histograms print their count.
func (p *printer) metrics(families []*dto.MetricFamily) {
	fprintf(p.w, "\n%s\n", p.bold.Sprint("Metrics"))
	for _, f := range families {
		for _, m := range f.GetMetric() {
			name := f.GetName()
			var value float64
			switch f.GetType() {
			case dto.MetricType_COUNTER:
				value = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				value = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				name += "_count"
				value = float64(m.GetHistogram().GetSampleCount())
			default:
				continue
			}

			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
			}
			fprintf(p.w, "  %s{%s} %g\n", name, strings.Join(labels, ","), value)
		}
	}
}
