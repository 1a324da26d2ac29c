package events

import (
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const TopicPrefix = "femcare."

// BuildPublisher assembles the relay's publisher from whatever transports are
// configured. With none it returns Noop and rows are simply marked published.
func BuildPublisher(brokers []string, rdb *redis.Client, logger zerolog.Logger) (Publisher, func() error) {
	var (
		pubs    Multi
		closers []func() error
	)

	if len(brokers) > 0 {
		kp := NewKafkaPublisher(brokers, TopicPrefix)
		pubs = append(pubs, kp)
		closers = append(closers, kp.Close)
		logger.Info().Strs("brokers", brokers).Msg("kafka publishing enabled")
	}
	if rdb != nil {
		pubs = append(pubs, NewRedisNotifier(rdb, logger))
	}

	closeAll := func() error {
		var first error
		for _, c := range closers {
			if err := c(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	switch len(pubs) {
	case 0:
		logger.Warn().Msg("no event transport configured, outbox rows will be dropped after relay")
		return Noop{}, closeAll
	case 1:
		return pubs[0], closeAll
	}
	return pubs, closeAll
}
