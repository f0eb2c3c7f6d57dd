// Package metrics exposes operational counters for the lock server and a
// Prometheus scrape endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PairingsCommitted counts devices committed to the registry, initial
	// and delegated.
	PairingsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lockd",
		Name:      "pairings_committed_total",
		Help:      "Number of devices committed to the registry.",
	})

	// UnlocksAuthorized counts unlock requests that passed all checks and
	// triggered actuation.
	UnlocksAuthorized = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lockd",
		Name:      "unlocks_authorized_total",
		Help:      "Number of unlock requests that triggered actuation.",
	})

	// UnlocksRejected counts unlock requests that failed verification.
	UnlocksRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lockd",
		Name:      "unlocks_rejected_total",
		Help:      "Number of unlock requests rejected.",
	})

	// AuditStampsIssued counts stamps the audit co-signer produced.
	AuditStampsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lockd",
		Name:      "audit_stamps_issued_total",
		Help:      "Number of audit stamps issued.",
	})
)

// NewServer returns an HTTP server exposing /metrics on the given address.
func NewServer(listenAddr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
