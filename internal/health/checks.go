package health

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/narrata/internal/resilience"
	"github.com/MrWong99/narrata/pkg/provider/tts"
)

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database reports whether the store answers a ping.
func Database(p Pinger) Checker {
	return Checker{Name: "database", Check: p.Ping}
}

// Providers passes when at least one provider in set has credentials.
func Providers(set *tts.Set) Checker {
	return Checker{
		Name: "providers",
		Check: func(context.Context) error {
			var missing []string
			for _, p := range set.All() {
				if p.CheckCredentials() == nil {
					return nil
				}
				missing = append(missing, p.Info().ID)
			}
			if len(missing) == 0 {
				return errors.New("no providers registered")
			}
			return fmt.Errorf("no provider has credentials (%s)", strings.Join(missing, ", "))
		},
	}
}

// Breakers fails when every known provider breaker is open.
func Breakers(b *resilience.BreakerSet) Checker {
	return Checker{
		Name: "breakers",
		Check: func(context.Context) error {
			states := b.States()
			if len(states) == 0 {
				return nil
			}
			for _, st := range states {
				if st != resilience.StateOpen {
					return nil
				}
			}
			return errors.New("all provider circuits are open")
		},
	}
}
