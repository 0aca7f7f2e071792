package cronjob

import (
	"github.com/prometheus/client_golang/prometheus"

	taskdprom "github.com/tgifai/taskd/internal/pkg/prometheus"
)

var (
	firesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskd_task_fires_total",
		Help: "Task firings by type and trigger.",
	}, []string{"type", "trigger"})

	outcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskd_task_outcomes_total",
		Help: "Settled executions by type and result.",
	}, []string{"type", "result"})

	retriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskd_task_retries_total",
		Help: "Scheduled retries by type.",
	}, []string{"type"})

	tasksGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "taskd_tasks",
		Help: "Known tasks by state.",
	}, []string{"state"})
)

func init() {
	taskdprom.GetRegistry().MustRegister(firesTotal, outcomesTotal, retriesTotal, tasksGauge)
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
