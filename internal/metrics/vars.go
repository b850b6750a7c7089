package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OutcomesRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeguard_outcomes_recorded_total",
		Help: "Trade outcomes accepted, by outcome",
	}, []string{"outcome"})

	RecordsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradeguard_records_rejected_total",
		Help: "Recording attempts rejected because trading was off",
	})

	StopsTriggered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeguard_stops_triggered_total",
		Help: "Trading stops triggered, by reason",
	}, []string{"reason"})

	DayResets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradeguard_day_resets_total",
		Help: "Local-day rollovers applied",
	})

	StopsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradeguard_stops_expired_total",
		Help: "Stops cleared within the same local day",
	})

	SettingsUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradeguard_settings_updates_total",
		Help: "Settings updates stored",
	})

	PersistenceErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradeguard_persistence_errors_total",
		Help: "Storage failures surfaced to callers",
	})

	UsersTradingOff = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tradeguard_users_trading_off",
		Help: "Users whose stop is currently in force (sampled)",
	})
)

func init() {
	prometheus.MustRegister(
		OutcomesRecorded,
		RecordsRejected,
		StopsTriggered,
		DayResets,
		StopsExpired,
		SettingsUpdates,
		PersistenceErrors,
		UsersTradingOff,
	)
}
