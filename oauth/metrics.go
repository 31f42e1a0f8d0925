package oauth

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var tokenRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "atproto_oauth_token_requests",
	Help: "OAuth requests to auth server token-ish endpoints, by operation and HTTP status",
}, []string{"operation", "status"})

var resourceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "atproto_oauth_resource_requests",
	Help: "Authenticated resource requests, by HTTP status",
}, []string{"status"})

func httpStatusLabel(code int) string {
	return strconv.Itoa(code)
}
