package bot

import (
	"context"
	"strconv"

	"resortwala/internal/metrics"
)

func (b *Bot) withRecovery(handler func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncBotUpdate("panic")
			b.logger.Error().Interface("panic", r).Msg("Recovered from panic in update handler")
		}
	}()
	handler()
}

// allow applies the per-user message limit. Managers are not throttled and a
// failing store lets the update through.
func (b *Bot) allow(ctx context.Context, userID int64) bool {
	if b.limiter == nil || b.isManager(userID) {
		return true
	}
	key := "telegram:" + strconv.FormatInt(userID, 10)
	allowed, err := b.limiter.CheckRateLimit(ctx, key, b.config.RateLimitMessages, b.config.RateLimitWindow)
	if err != nil {
		b.logger.Error().Err(err).Int64("user_id", userID).Msg("Rate limit check failed")
		return true
	}
	return allowed
}
