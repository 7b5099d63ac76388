// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restful

import (
	"github.com/prometheus/client_golang/prometheus"
)

var requestCount = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "uanti",
		Subsystem: "restful",
		Name:      "requests_total",
		Help:      "Completed HTTP requests, by method and status code",
	},
	[]string{
		"method",
		"status",
	},
)

var retryCount = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "uanti",
		Subsystem: "restful",
		Name:      "request_retries_total",
		Help:      "HTTP request retries, by reason",
	},
	[]string{
		"reason",
	},
)

func init() {
	prometheus.MustRegister(requestCount, retryCount)
}
