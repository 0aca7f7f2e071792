package store

import (
	"github.com/prometheus/client_golang/prometheus"

	taskdprom "github.com/tgifai/taskd/internal/pkg/prometheus"
)

var storeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "taskd",
	Name:      "store_errors_total",
	Help:      "Primary store operations that failed and were retried on the fallback backend.",
}, []string{"op"})

func init() {
	taskdprom.GetRegistry().MustRegister(storeErrors)
}
