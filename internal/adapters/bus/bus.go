package bus

import (
	"fmt"
	"time"

	"github.com/sibylhq/sibyl/internal/ports"
)

const (
	// ModeChannel runs the in-process bounded queue
	ModeChannel = "channel"
	// ModeLog runs on Kafka
	ModeLog = "log"
)

// Config selects and sizes a bus backend.
type Config struct {
	Mode           string
	MaxSize        int
	NumConsumers   int
	ProduceTimeout time.Duration
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaGroupID   string
}

// New builds the configured backend.
func New(cfg Config) (ports.MessageBus, error) {
	switch cfg.Mode {
	case ModeChannel, "":
		return NewChannelBus(cfg.MaxSize, cfg.NumConsumers, cfg.ProduceTimeout), nil
	case ModeLog:
		return NewKafkaBus(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, cfg.NumConsumers, cfg.ProduceTimeout), nil
	default:
		return nil, fmt.Errorf("unknown bus mode %q", cfg.Mode)
	}
}
