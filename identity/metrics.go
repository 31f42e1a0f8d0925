package identity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var handleResolution = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "atproto_oauth_resolve_handle",
	Help: "Handle resolution attempts",
}, []string{"route", "status"})

var handleResolutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "atproto_oauth_resolve_handle_duration",
	Help:    "Time to resolve a handle",
	Buckets: prometheus.ExponentialBucketsRange(0.0001, 2, 20),
}, []string{"route", "status"})

var didResolution = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "atproto_oauth_resolve_did",
	Help: "DID document resolution attempts",
}, []string{"method", "status"})

var didResolutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "atproto_oauth_resolve_did_duration",
	Help:    "Time to resolve a DID document",
	Buckets: prometheus.ExponentialBucketsRange(0.0001, 2, 20),
}, []string{"method", "status"})
