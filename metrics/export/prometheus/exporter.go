package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

// Source is what the exporter reads on every scrape. *goIdentity.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() goIdentity.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter serves engine counters and the sign-in latency
// histogram as Prometheus text.
type PrometheusExporter struct {
	source Source
}

func NewPrometheusExporter(engine *goIdentity.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

func NewPrometheusExporterFromSource(source Source) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves Render on every request.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the exposition for the current snapshot. It is empty while
// metrics are disabled and nothing was dropped.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snap := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && dropped == 0 {
		return ""
	}

	w := &expositionWriter{}
	w.b.Grow(128 * (len(internaldefs.CounterDefs) + 12))

	for _, def := range internaldefs.CounterDefs {
		w.counter(def.Name, def.Help, snap.Counters[def.ID])
	}
	w.counter(internaldefs.AuditDropped.Name, internaldefs.AuditDropped.Help, dropped)

	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snap.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		w.histogram(def.Name, def.Help, cumulative, snap.HistogramSums[def.ID].Seconds())
	}

	return w.b.String()
}

type expositionWriter struct {
	b strings.Builder
}

func (w *expositionWriter) family(name, help, kind string) {
	w.b.WriteString("# HELP ")
	w.b.WriteString(name)
	w.b.WriteByte(' ')
	w.b.WriteString(escapeHelp(help))
	w.b.WriteString("\n# TYPE ")
	w.b.WriteString(name)
	w.b.WriteByte(' ')
	w.b.WriteString(kind)
	w.b.WriteByte('\n')
}

func (w *expositionWriter) sample(name, labels, value string) {
	w.b.WriteString(name)
	w.b.WriteString(labels)
	w.b.WriteByte(' ')
	w.b.WriteString(value)
	w.b.WriteByte('\n')
}

func (w *expositionWriter) counter(name, help string, value uint64) {
	w.family(name, help, "counter")
	w.sample(name, "", strconv.FormatUint(value, 10))
}

func (w *expositionWriter) histogram(name, help string, cumulative [8]uint64, sumSeconds float64) {
	w.family(name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		w.sample(name+"_bucket", `{le="`+le+`"}`, strconv.FormatUint(cumulative[i], 10))
	}
	w.sample(name+"_sum", "", strconv.FormatFloat(sumSeconds, 'g', -1, 64))
	w.sample(name+"_count", "", strconv.FormatUint(cumulative[len(cumulative)-1], 10))
}

func escapeHelp(help string) string {
	return helpEscaper.Replace(help)
}

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
