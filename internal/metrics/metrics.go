package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values for CacheLookups
const (
	ResultHit  = "hit"
	ResultMiss = "miss"
)

// Outcome label values for IncludeDirResolutions
const (
	OutcomeFound    = "found"
	OutcomeNotFound = "not_found"
)

var (
	DriverQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devinfo_driver_queries_total",
		Help: "The total number of queries issued to the device runtime",
	}, []string{"fact"})

	DriverQueryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devinfo_driver_query_errors_total",
		Help: "The total number of failed queries to the device runtime",
	}, []string{"fact"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devinfo_cache_lookups_total",
		Help: "The total number of introspection cache lookups",
	}, []string{"fact", "result"})

	// Include directory resolution
	IncludeDirResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devinfo_include_dir_resolutions_total",
		Help: "The total number of toolkit include directory searches by outcome",
	}, []string{"outcome"})

	VisibleDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "devinfo_visible_devices",
		Help: "Number of devices visible to the runtime, set once the count is cached",
	})
)
