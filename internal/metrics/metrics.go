// Package metrics регистрирует счетчики Prometheus, отдаваемые на /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PostsPublished число опубликованных в группу постов, по темам.
	PostsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "club_posts_published_total",
		Help: "Posts published to the supergroup",
	}, []string{"topic"})

	// LikesToggled число обработанных нажатий лайка.
	LikesToggled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "club_likes_toggled_total",
		Help: "Like button presses processed",
	})

	// SweepRuns число запусков обходов, по имени обхода.
	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "club_sweep_runs_total",
		Help: "Scheduler sweep runs",
	}, []string{"sweep"})

	// EffectFailures внешние эффекты, не выполнившиеся после всех повторов.
	EffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "club_effect_failures_total",
		Help: "External effects that failed after bounded retries",
	}, []string{"kind"})

	// NoticesQueued задания на доставку, опубликованные в очередь.
	NoticesQueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "club_notices_queued_total",
		Help: "Direct-notice jobs published to the broker",
	}, []string{"kind"})
)
