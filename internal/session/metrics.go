package session

import "github.com/prometheus/client_golang/prometheus"

var reapedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "session_reaped_total",
	Help: "Expired session rows deleted by the reaper.",
})

func init() {
	prometheus.MustRegister(reapedTotal)
}
