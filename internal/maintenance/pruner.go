package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// ExpiredTokenPruner deletes tokens past their expiry.
type ExpiredTokenPruner interface {
	PruneExpired(ctx context.Context) (int64, error)
}

// TokenPruner periodically removes expired bearer tokens.
type TokenPruner struct {
	tokens  ExpiredTokenPruner
	cron    *cron.Cron
	timeout time.Duration
}

// NewTokenPruner creates a pruner running on the given cron schedule
// (standard five-field spec or descriptor such as "@hourly").
func NewTokenPruner(tokens ExpiredTokenPruner, schedule string) (*TokenPruner, error) {
	p := &TokenPruner{
		tokens:  tokens,
		cron:    cron.New(),
		timeout: time.Minute,
	}
	if _, err := p.cron.AddFunc(schedule, p.prune); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return p, nil
}

// Start prunes once immediately and then on schedule.
func (p *TokenPruner) Start() {
	log.Info().Msg("Starting expired token pruner")
	p.prune()
	p.cron.Start()
}

// Stop halts the schedule and waits for a running prune to finish.
func (p *TokenPruner) Stop() {
	<-p.cron.Stop().Done()
	log.Info().Msg("Stopped expired token pruner")
}

func (p *TokenPruner) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	n, err := p.tokens.PruneExpired(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to prune expired tokens")
		return
	}
	if n > 0 {
		log.Info().Int64("pruned", n).Msg("Pruned expired tokens")
	}
}
