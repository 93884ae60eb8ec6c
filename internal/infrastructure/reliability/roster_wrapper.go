package reliability

import (
	"context"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/pkg/circuitbreaker"
	"voicemesh/pkg/retry"

	"go.uber.org/zap"
)

// RosterWrapper guards a roster repository with retries and a circuit
// breaker so a flapping backing store does not take the relay down.
// Lookup misses pass straight through; only infrastructure failures count
// against the breaker.
type RosterWrapper struct {
	roster ports.RosterRepository

	retryConfig retry.Config
	breaker     *circuitbreaker.CircuitBreaker

	logger *zap.SugaredLogger
}

func NewRosterWrapper(
	roster ports.RosterRepository,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *RosterWrapper {
	w := &RosterWrapper{
		roster:      roster,
		retryConfig: retryConfig,
		breaker:     circuitbreaker.New(cbConfig),
		logger:      logger,
	}
	w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("roster circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})
	return w
}

// expected reports whether an error is a normal domain outcome rather than
// an infrastructure failure.
func expected(err error) bool {
	return err == domain.ErrRoomNotFound || err == domain.ErrParticipantNotFound
}

func (w *RosterWrapper) do(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, w.retryConfig, func() error {
		return w.breaker.Execute(func() error {
			if err := fn(); err != nil && !expected(err) {
				return err
			}
			return nil
		})
	})
}

func (w *RosterWrapper) Add(ctx context.Context, roomID string, p *domain.VoiceParticipant) error {
	return w.do(ctx, func() error {
		return w.roster.Add(ctx, roomID, p)
	})
}

func (w *RosterWrapper) Remove(ctx context.Context, roomID, userID string) error {
	var inner error
	if err := w.do(ctx, func() error {
		inner = w.roster.Remove(ctx, roomID, userID)
		return inner
	}); err != nil {
		return err
	}
	return inner
}

func (w *RosterWrapper) SetMuted(ctx context.Context, roomID, userID string, isMuted bool) error {
	var inner error
	if err := w.do(ctx, func() error {
		inner = w.roster.SetMuted(ctx, roomID, userID, isMuted)
		return inner
	}); err != nil {
		return err
	}
	return inner
}

func (w *RosterWrapper) List(ctx context.Context, roomID string) ([]*domain.VoiceParticipant, error) {
	var result []*domain.VoiceParticipant
	var inner error
	if err := w.do(ctx, func() error {
		result, inner = w.roster.List(ctx, roomID)
		return inner
	}); err != nil {
		return nil, err
	}
	return result, inner
}

func (w *RosterWrapper) Rooms(ctx context.Context) ([]string, error) {
	var result []string
	var inner error
	if err := w.do(ctx, func() error {
		result, inner = w.roster.Rooms(ctx)
		return inner
	}); err != nil {
		return nil, err
	}
	return result, inner
}

// BreakerState exposes the breaker for health reporting.
func (w *RosterWrapper) BreakerState() circuitbreaker.State {
	return w.breaker.State()
}
