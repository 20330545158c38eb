package ledfxd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledfxd",
		Name:      "frames_total",
		Help:      "Frames flushed to the strip",
	}, []string{"effect"})

	activationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledfxd",
		Name:      "effect_activations_total",
		Help:      "Effects dispatched by the render loop",
	}, []string{"effect"})

	statusGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ledfxd",
		Name:      "status",
		Help:      "Effect status (0 off, 1 on, 2 idle)",
	})
)
