package idempotency

import "github.com/prometheus/client_golang/prometheus"

var claimsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "idempotency_try_begin_total",
		Help: "TryBegin outcomes by result (start_processing, return_saved_response, incomplete).",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(claimsTotal)
}
