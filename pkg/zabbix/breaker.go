package zabbix

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned without contacting the server while the
// endpoint's breaker is open.
var ErrCircuitOpen = gobreaker.ErrOpenState

// StateChangeFunc observes breaker transitions, e.g. for metrics.
type StateChangeFunc func(name, from, to string)

type breaker struct {
	cb *gobreaker.CircuitBreaker[json.RawMessage]
}

var (
	breakersMu sync.Mutex
	breakers   = make(map[string]*breaker)
)

// sharedBreaker returns the breaker registered under name, creating it on
// first use. Every request builds a fresh Client, so the breaker must live
// outside the client for failure counts to carry over.
func sharedBreaker(name string, onChange StateChangeFunc) *breaker {
	breakersMu.Lock()
	defer breakersMu.Unlock()

	if b, ok := breakers[name]; ok {
		return b
	}
	b := &breaker{cb: gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 5 {
				log.Warn().
					Str("breaker", name).
					Uint32("consecutive_failures", counts.ConsecutiveFailures).
					Msg("Opening Zabbix API circuit")
				return true
			}
			return false
		},
		// Error objects mean the server is up and answering
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			return err == nil || errors.As(err, &apiErr)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Zabbix API circuit state transition")
			if onChange != nil {
				onChange(name, from.String(), to.String())
			}
		},
	})}
	breakers[name] = b
	return b
}

func (b *breaker) Execute(fn func() (json.RawMessage, error)) (json.RawMessage, error) {
	return b.cb.Execute(fn)
}

// BreakerState reports the state of the named breaker, or "" when unknown.
func BreakerState(name string) string {
	breakersMu.Lock()
	defer breakersMu.Unlock()
	if b, ok := breakers[name]; ok {
		return b.cb.State().String()
	}
	return ""
}
