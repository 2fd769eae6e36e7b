package keys

import (
	"context"
	"io"

	"golang.org/x/sync/semaphore"
)

// Provider generates keypairs with a bounded number of generations in flight,
// so a burst of joins cannot monopolise the CPU.
type Provider struct {
	sem  *semaphore.Weighted
	rand io.Reader
}

// NewProvider returns a Provider allowing workers concurrent generations.
// A nil rand means crypto/rand.
func NewProvider(workers int, rand io.Reader) *Provider {
	if workers < 1 {
		workers = 1
	}
	return &Provider{sem: semaphore.NewWeighted(int64(workers)), rand: rand}
}

// Generate waits for a free slot and returns a fresh keypair.
func (p *Provider) Generate(ctx context.Context) (*KeyPair, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)
	return Generate(p.rand)
}
