package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LoginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	TokenVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_verifications_total",
			Help: "Access token verifications by outcome.",
		},
		[]string{"outcome"},
	)

	APIKeyValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apikey_validations_total",
			Help: "API key validations by outcome.",
		},
		[]string{"outcome"},
	)

	RuleEvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "policy_rule_evaluation_duration_seconds",
			Help:    "Duration of global rule evaluation passes.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category"},
	)

	ExpiredKeysSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apikey_expired_swept_total",
		Help: "API keys transitioned to expired by the periodic sweep.",
	})
)

// Init registers metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		LoginAttempts,
		TokenVerifications,
		APIKeyValidations,
		RuleEvaluationDuration,
		ExpiredKeysSwept,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveEvaluation records a rule evaluation pass for a category.
func ObserveEvaluation(category string, start time.Time) {
	RuleEvaluationDuration.WithLabelValues(category).Observe(time.Since(start).Seconds())
}
