package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/aftercare/internal/mail"
)

// ProtectedGateway wraps a mail.Gateway with a CircuitBreaker. Rejected sends
// return ErrCircuitOpen and count as ordinary delivery failures upstream.
type ProtectedGateway struct {
	gateway mail.Gateway
	breaker *CircuitBreaker
	logger  *zap.Logger
}

func NewProtectedGateway(gateway mail.Gateway, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedGateway {
	return &ProtectedGateway{
		gateway: gateway,
		breaker: breaker,
		logger:  logger,
	}
}

func (p *ProtectedGateway) Send(ctx context.Context, msg mail.Message) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("breaker", p.breaker.Name()),
			zap.String("to", msg.To),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s transport unavailable", ErrCircuitOpen, p.breaker.Name())
	}

	if err := p.gateway.Send(ctx, msg); err != nil {
		p.breaker.RecordFailure()
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// Breaker exposes the breaker for stats.
func (p *ProtectedGateway) Breaker() *CircuitBreaker {
	return p.breaker
}
