// Package model contains the core domain types.
package model

// Provider identifies an external data source.
type Provider string

const (
	// ProviderWorkout is the workout-tracking service: activities with
	// duration, distance, heart rate, and cadence detail.
	ProviderWorkout Provider = "workout"

	// ProviderRecovery is the wearable recovery service: recovery scores,
	// sleep, and logged workouts.
	ProviderRecovery Provider = "recovery"
)

// Valid reports whether p names a known provider.
func (p Provider) Valid() bool {
	return p == ProviderWorkout || p == ProviderRecovery
}

// Providers returns all known providers in dispatch order.
func Providers() []Provider {
	return []Provider{ProviderWorkout, ProviderRecovery}
}
