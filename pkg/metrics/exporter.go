package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capstream-io/capstream/util"
)

func init() {
	prometheus.MustRegister(ChunksDecoded, MessagesDecoded, IndexReads, DecodeFailures, OpenReaders)
	prometheus.MustRegister(ReplayTicks, ReplayEmitted)
}

// StartMetricsServer exposes /metrics on the given port in the background.
func StartMetricsServer(port int) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", port)
		util.Info("Prometheus exporter listening on %s", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			util.Error("failed to start metrics server: %v", err)
		}
	}()
}
