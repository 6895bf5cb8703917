package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DefaultBuckets suits request latencies in seconds.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

type histogramSeries struct {
	labelValues []string
	// counts[i] is the number of observations <= buckets[i]; not cumulative.
	counts []uint64
	sum    float64
	count  uint64
}

// HistogramVec tracks observation distributions partitioned by label values.
type HistogramVec struct {
	opts       Opts
	buckets    []float64
	labelNames []string

	mu     sync.Mutex
	series map[string]*histogramSeries
}

func NewHistogramVec(opts Opts, buckets []float64, labelNames []string) *HistogramVec {
	if len(buckets) == 0 {
		buckets = DefaultBuckets
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	return &HistogramVec{
		opts:       opts,
		buckets:    sorted,
		labelNames: append([]string(nil), labelNames...),
		series:     map[string]*histogramSeries{},
	}
}

func (h *HistogramVec) name() string { return h.opts.Name }

// Observe records v. Calls with the wrong number of label values are ignored.
func (h *HistogramVec) Observe(v float64, labelValues ...string) {
	if len(labelValues) != len(h.labelNames) {
		return
	}
	key := strings.Join(labelValues, "\xff")

	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.series[key]
	if !ok {
		s = &histogramSeries{
			labelValues: append([]string(nil), labelValues...),
			counts:      make([]uint64, len(h.buckets)),
		}
		h.series[key] = s
	}
	if i := sort.SearchFloat64s(h.buckets, v); i < len(h.buckets) {
		s.counts[i]++
	}
	s.sum += v
	s.count++
}

// Count reports how many observations one label combination has.
func (h *HistogramVec) Count(labelValues ...string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.series[strings.Join(labelValues, "\xff")]; ok {
		return s.count
	}
	return 0
}

func (h *HistogramVec) writePrometheus(sb *strings.Builder) {
	writeMetricHead(sb, h.opts.Name, "histogram", h.opts.Help)

	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]string, 0, len(h.series))
	for key := range h.series {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		s := h.series[key]
		labels := h.labelPairs(s.labelValues)
		var cumulative uint64
		for i, upper := range h.buckets {
			cumulative += s.counts[i]
			fmt.Fprintf(sb, "%s_bucket{%sle=\"%s\"} %d\n", h.opts.Name, labels, floatToString(upper), cumulative)
		}
		fmt.Fprintf(sb, "%s_bucket{%sle=\"+Inf\"} %d\n", h.opts.Name, labels, s.count)
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.opts.Name, braced(labels), floatToString(s.sum))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.opts.Name, braced(labels), s.count)
	}
}

// labelPairs renders `a="x",b="y",` ready to be followed by le.
func (h *HistogramVec) labelPairs(values []string) string {
	var sb strings.Builder
	for i, name := range h.labelNames {
		fmt.Fprintf(&sb, `%s="%s",`, name, escapeLabelValue(values[i]))
	}
	return sb.String()
}

func braced(pairs string) string {
	if pairs == "" {
		return ""
	}
	return "{" + strings.TrimSuffix(pairs, ",") + "}"
}
