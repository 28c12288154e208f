package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forward_cache_hits_total",
			Help: "Total number of object cache hits",
		},
		[]string{"store"},
	)

	cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forward_cache_misses_total",
			Help: "Total number of object cache misses",
		},
		[]string{"store"},
	)

	cacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forward_cache_evictions_total",
			Help: "Total number of entries evicted to reclaim capacity",
		},
		[]string{"store"},
	)

	cacheRejects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forward_cache_rejected_inserts_total",
			Help: "Total number of inserts rejected for exceeding size bounds",
		},
		[]string{"store"},
	)

	cacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forward_cache_stored_bytes",
			Help: "Current total size of stored objects in bytes",
		},
		[]string{"store"},
	)
)
