package cloudsync

import (
	"time"

	"github.com/sony/gobreaker"
)

// namedSink pairs a Sink with its own circuit breaker so one dead
// endpoint cannot starve pushes to the other (spec §4.6: "a bounded
// number of immediate retries ... implemented here as a circuit breaker
// per sink").
type namedSink struct {
	name    string
	sink    Sink
	breaker *gobreaker.CircuitBreaker
}

func newNamedSink(name string, s Sink) *namedSink {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &namedSink{name: name, sink: s, breaker: gobreaker.NewCircuitBreaker(settings)}
}
