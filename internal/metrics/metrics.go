// Package metrics defines the Prometheus instruments shared by the services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	Registrations *prometheus.CounterVec
	Resolutions   *prometheus.CounterVec
	LocationLogs  *prometheus.CounterVec
	PhotoUploads  prometheus.Counter
	PhotoViews    *prometheus.CounterVec
}

// New creates and registers all metrics on reg. Passing a fresh registry per
// test keeps registrations from colliding.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrescue",
			Name:      "registrations_total",
			Help:      "Registration attempts by result",
		}, []string{"result"}),
		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrescue",
			Name:      "resolutions_total",
			Help:      "Token resolutions by source (token, store, miss)",
		}, []string{"source"}),
		LocationLogs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrescue",
			Name:      "location_logs_total",
			Help:      "Accident location reports by result",
		}, []string{"result"}),
		PhotoUploads: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "qrescue",
			Name:      "photo_uploads_total",
			Help:      "Accepted photo uploads",
		}),
		PhotoViews: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrescue",
			Name:      "photo_views_total",
			Help:      "One-time photo view attempts by result",
		}, []string{"result"}),
	}
}

// Discard returns metrics registered nowhere, for callers that do not export
// them.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
