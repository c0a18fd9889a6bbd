package events

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
)

// NewFromEnv builds a queue from environment variables.
//
//	WORKFLOW_MQ=kafka  KAFKA_BROKERS=host:9092[,host2:9092]  WORKFLOW_TOPIC=tcrs.workflow
//	WORKFLOW_MQ=redis  REDIS_URL=redis://host:6379/0         WORKFLOW_STREAM=tcrs:workflow
//	WORKFLOW_MQ=none (default)
//
// An existing redis client may be passed to share the connection; pass nil
// to dial from REDIS_URL.
func NewFromEnv(shared *redis.Client) (Queue, error) {
	switch os.Getenv("WORKFLOW_MQ") {
	case "", "none", "noop":
		return NewNoop(), nil
	case "kafka":
		brokers := splitBrokers(os.Getenv("KAFKA_BROKERS"))
		if len(brokers) == 0 {
			return nil, fmt.Errorf("events: WORKFLOW_MQ=kafka requires KAFKA_BROKERS")
		}
		topic := os.Getenv("WORKFLOW_TOPIC")
		if topic == "" {
			topic = "tcrs.workflow"
		}
		return NewKafka(brokers, topic), nil
	case "redis":
		cli := shared
		if cli == nil {
			u := os.Getenv("REDIS_URL")
			if u == "" {
				return nil, fmt.Errorf("events: WORKFLOW_MQ=redis requires REDIS_URL")
			}
			opt, err := redis.ParseURL(u)
			if err != nil {
				return nil, fmt.Errorf("events: parse REDIS_URL: %w", err)
			}
			cli = redis.NewClient(opt)
		}
		stream := os.Getenv("WORKFLOW_STREAM")
		if stream == "" {
			stream = "tcrs:workflow"
		}
		return NewRedis(cli, stream), nil
	default:
		return nil, fmt.Errorf("events: unknown WORKFLOW_MQ %q", os.Getenv("WORKFLOW_MQ"))
	}
}
