package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entriesCreated = promauto.NewCounter(prometheus.CounterOpts{Name: "reward_entries_created_total"})
	holdsReleased  = promauto.NewCounter(prometheus.CounterOpts{Name: "reward_holds_released_total"})
)
