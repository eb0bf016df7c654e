package payout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	payoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "affiliate_payouts_total",
		Help: "Payout attempts by outcome.",
	}, []string{"result"})

	payoutGross = promauto.NewCounter(prometheus.CounterOpts{
		Name: "affiliate_payout_gross_cents_total",
		Help: "Gross amount settled, in minor units.",
	})
)
