package shield

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels are bounded: no per-player values.
var (
	membersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shield_members",
		Help: "Players currently in the shield membership cache",
	})

	taskRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shield_task_running",
		Help: "1 while the push task is scheduled",
	})

	pushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shield_pushes_total",
		Help: "Velocity overwrites applied to nearby entities",
	})

	zeroVectorSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shield_zero_vector_skips_total",
		Help: "Pushes skipped because the entity shares the shielded player's position",
	})

	evictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shield_evictions_total",
		Help: "Stale membership entries removed by the push task",
	}, []string{"reason"}) // Bounded: "offline", "permission"

	pushTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shield_push_tick_duration_seconds",
		Help:    "Time spent in one push task run",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})
)
