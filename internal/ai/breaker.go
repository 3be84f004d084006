package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type breakerGenerator struct {
	next IGenerator
	cb   *gobreaker.CircuitBreaker
}

// WrapBreaker stops calling next after maxFailures consecutive failures and
// probes it again once cooldown has passed.
func WrapBreaker(name string, next IGenerator, maxFailures uint32, cooldown time.Duration) IGenerator {
	if next == nil || maxFailures == 0 {
		return next
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logutil.GetLogger(context.Background()).Warn("generator breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &breakerGenerator{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breakerGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Generate(ctx, prompt)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err != nil {
		return "", err
	}
	return res.(string), nil
}
