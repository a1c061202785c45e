// Package payment holds the simulated payment gateway used by settlement.
package payment

import (
	"context"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"github.com/shopspring/decimal"
	"math/rand/v2"
	"sync"
	"time"
)

const DeclineMessage = "Simulated payment decline."

// Simulated approves a charge with probability SuccessRate after a latency
// drawn uniformly from [MinLatency, MaxLatency].
type Simulated struct {
	SuccessRate float64
	MinLatency  time.Duration
	MaxLatency  time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulated(successRate float64, minLatency, maxLatency time.Duration) *Simulated {
	return &Simulated{
		SuccessRate: successRate,
		MinLatency:  minLatency,
		MaxLatency:  maxLatency,
		rnd:         rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// WithSeed makes the outcome sequence reproducible.
func (s *Simulated) WithSeed(seed uint64) *Simulated {
	s.mu.Lock()
	s.rnd = rand.New(rand.NewPCG(seed, seed))
	s.mu.Unlock()
	return s
}

func (s *Simulated) Charge(ctx context.Context, orderID int64, amount decimal.Decimal) (orders.PaymentResult, error) {
	s.mu.Lock()
	delay := s.MinLatency
	if span := s.MaxLatency - s.MinLatency; span > 0 {
		delay += time.Duration(s.rnd.Int64N(int64(span) + 1))
	}
	roll := s.rnd.Float64()
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return orders.PaymentResult{}, ctx.Err()
		case <-t.C:
		}
	}

	if roll < s.SuccessRate {
		return orders.PaymentResult{Success: true}, nil
	}
	return orders.PaymentResult{Success: false, Message: DeclineMessage}, nil
}
