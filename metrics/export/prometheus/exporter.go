// Package prometheus exposes engine metrics in the Prometheus text
// format. The engine's counters are plain atomics, so the exposition is
// rendered by hand instead of pulling in the client library.
package prometheus

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/expressthat/authkit"
	"github.com/expressthat/authkit/metrics/export/internaldefs"
)

// Source is the slice of the engine the exporter reads. *authkit.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() [authkit.NumMetrics]uint64
	HistogramSnapshot(authkit.HistogramID) [8]uint64
	AuditDropped() uint64
}

// Handler serves the current snapshot on each scrape.
func Handler(src Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(Render(src)))
	})
}

// Render produces the full text exposition.
func Render(src Source) string {
	var b strings.Builder
	snapshot := src.MetricsSnapshot()

	for _, def := range internaldefs.CounterDefs {
		fmt.Fprintf(&b, "# HELP %s %s\n", def.Name, def.Help)
		fmt.Fprintf(&b, "# TYPE %s counter\n", def.Name)
		fmt.Fprintf(&b, "%s %d\n", def.Name, snapshot[def.ID])
	}

	fmt.Fprintf(&b, "# HELP %s Audit events shed because the buffer was full.\n", internaldefs.AuditDroppedName)
	fmt.Fprintf(&b, "# TYPE %s counter\n", internaldefs.AuditDroppedName)
	fmt.Fprintf(&b, "%s %d\n", internaldefs.AuditDroppedName, src.AuditDropped())

	for _, def := range internaldefs.HistogramDefs {
		buckets := src.HistogramSnapshot(def.ID)
		fmt.Fprintf(&b, "# HELP %s %s\n", def.Name, def.Help)
		fmt.Fprintf(&b, "# TYPE %s histogram\n", def.Name)

		var cumulative uint64
		for i, bound := range internaldefs.BucketBoundsSeconds {
			cumulative += buckets[i]
			fmt.Fprintf(&b, "%s_bucket{le=%q} %d\n", def.Name, bound, cumulative)
		}
		cumulative += buckets[len(buckets)-1]
		fmt.Fprintf(&b, "%s_bucket{le=\"+Inf\"} %d\n", def.Name, cumulative)
		fmt.Fprintf(&b, "%s_count %d\n", def.Name, cumulative)
	}

	return b.String()
}
