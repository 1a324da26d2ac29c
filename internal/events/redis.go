package events

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	redisclient "github.com/hackgods/femcare-appointments/internal/redis"
)

type channelPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisNotifier tells watchers that a provider-day changed. Notifications are
// best effort: failures are logged and never hold back the outbox.
type RedisNotifier struct {
	client channelPublisher
	log    zerolog.Logger
}

func NewRedisNotifier(client *redis.Client, logger zerolog.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, log: logger}
}

func (n *RedisNotifier) Publish(ctx context.Context, events []Event) error {
	seen := make(map[string]bool)
	for _, ev := range events {
		if ev.ProviderID == "" || ev.Date == "" {
			continue
		}
		channel := redisclient.AvailabilityChannel(ev.ProviderID, ev.Date)
		if seen[channel] {
			continue
		}
		seen[channel] = true

		if err := n.client.Publish(ctx, channel, ev.Type).Err(); err != nil {
			n.log.Warn().Err(err).Str("channel", channel).Msg("availability notification failed")
		}
	}
	return nil
}

// Subscribe calls onChange for every notification on the provider-day channel
// until ctx is done.
func Subscribe(ctx context.Context, client *redis.Client, providerID, date string, onChange func()) error {
	sub := client.Subscribe(ctx, redisclient.AvailabilityChannel(providerID, date))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-msgs:
			if !ok {
				return nil
			}
			onChange()
		}
	}
}
