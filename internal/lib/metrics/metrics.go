// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service counters.
type Metrics struct {
	Logins             *prometheus.CounterVec
	RefreshRotations   *prometheus.CounterVec
	LicenseValidations *prometheus.CounterVec
	MailJobsDropped    prometheus.Counter
	MailJobsPublished  prometheus.Counter
	MailJobsSent       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "licensing",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		RefreshRotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "licensing",
			Name:      "refresh_rotations_total",
			Help:      "Refresh token exchanges by outcome.",
		}, []string{"outcome"}),
		LicenseValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "licensing",
			Name:      "license_validations_total",
			Help:      "License validations by result.",
		}, []string{"result"}),
		MailJobsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "licensing",
			Name:      "mail_jobs_dropped_total",
			Help:      "Mail jobs dropped because the dispatch queue was full or publishing failed.",
		}),
		MailJobsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "licensing",
			Name:      "mail_jobs_published_total",
			Help:      "Mail jobs handed to the broker.",
		}),
		MailJobsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "licensing",
			Name:      "mail_jobs_sent_total",
			Help:      "Mail deliveries attempted by the sender worker, by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.Logins, m.RefreshRotations, m.LicenseValidations,
			m.MailJobsDropped, m.MailJobsPublished, m.MailJobsSent)
	}
	return m
}

// Noop returns unregistered collectors for tests and tools.
func Noop() *Metrics {
	return New(nil)
}
