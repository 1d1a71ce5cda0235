package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const DefaultFrameRate = 120

// Runner stands in for a host frame loop: it calls Tick at frameRate until
// ctx ends or the client enters the error state.
type Runner struct {
	client    *Client
	frameRate float64
	// CloseTimeout bounds the Close issued on exit.
	CloseTimeout time.Duration
}

func NewRunner(client *Client, frameRate float64) *Runner {
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	return &Runner{client: client, frameRate: frameRate, CloseTimeout: 5 * time.Second}
}

// Run initializes the client, ticks it and closes it on return. A
// cancelled ctx is a clean exit.
func (r *Runner) Run(ctx context.Context) (err error) {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), r.CloseTimeout)
		defer cancel()
		if closeErr := r.client.Close(closeCtx); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	if err := r.client.Init(ctx); err != nil {
		return err
	}

	limiter := rate.NewLimiter(rate.Limit(r.frameRate), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := r.client.Tick(ctx); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Msg("bridge.Runner tick failed")
		}
		if r.client.State() == StateError {
			return r.client.LastError()
		}
	}
}
