package listener

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Refresher is the part of the reporter a change notification drives.
type Refresher interface {
	RefreshConfiguration(force bool, done func(error))
}

const debounce = 200 * time.Millisecond

// ListenAndRefresh forces a configuration refresh whenever a NOTIFY arrives on
// channel, e.g. after an operator publishes a new rule set. It reconnects
// with jittered backoff until ctx is done.
func ListenAndRefresh(ctx context.Context, pool *pgxpool.Pool, r Refresher, channel string, baseBackoff time.Duration) {
	for {
		err := listen(ctx, pool, r, channel)
		if ctx.Err() != nil {
			log.Info().Msg("listener stopped")
			return
		}
		backoff := jitter(baseBackoff)
		log.Error().Err(err).Str("channel", channel).Dur("retry_in", backoff).Msg("listen error")
		select {
		case <-ctx.Done():
			log.Info().Msg("listener stopped")
			return
		case <-time.After(backoff):
		}
	}
}

func listen(ctx context.Context, pool *pgxpool.Pool, r Refresher, channel string) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return err
	}
	log.Info().Str("channel", channel).Msg("listening for rule set changes")

	var last time.Time
	for {
		ntf, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if !accept(&last, time.Now()) {
			continue
		}
		log.Info().Str("channel", ntf.Channel).Str("payload", ntf.Payload).Msg("rule set change; refreshing configuration")
		r.RefreshConfiguration(true, func(err error) {
			if err != nil {
				log.Error().Err(err).Msg("forced configuration refresh failed")
			}
		})
	}
}

// accept drops notifications arriving within debounce of the last accepted one.
func accept(last *time.Time, now time.Time) bool {
	if !last.IsZero() && now.Sub(*last) < debounce {
		return false
	}
	*last = now
	return true
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64()
	return time.Duration(float64(base) * factor)
}
