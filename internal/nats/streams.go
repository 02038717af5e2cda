package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// StreamManager provisions the JetStream streams tensiond uses
type StreamManager struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewStreamManager creates a StreamManager on an open connection.
// logger may be nil.
func NewStreamManager(conn *nats.Conn, logger *zap.Logger) (*StreamManager, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamManager{js: js, logger: logger.Named("streams")}, nil
}

// SetupStreams creates or updates the tensiond streams. Mirrored events
// are retained on disk for a day so late consumers can replay recent
// pipeline output; ingest submissions only need to survive a restart
// window.
func (sm *StreamManager) SetupStreams() error {
	streams := []nats.StreamConfig{
		{
			Name:        "TENSIOND_EVENTS",
			Description: "Mirrored tensiond bus events",
			Subjects:    []string{SubjectAllEvents},
			Storage:     nats.FileStorage,
			MaxAge:      24 * time.Hour,
			Retention:   nats.LimitsPolicy,
		},
		{
			Name:        "TENSIOND_INGEST",
			Description: "Externally submitted tensions",
			Subjects:    []string{SubjectAllIngest},
			Storage:     nats.MemoryStorage,
			MaxAge:      1 * time.Hour,
			Retention:   nats.LimitsPolicy,
		},
	}

	for _, cfg := range streams {
		if err := sm.createOrUpdateStream(cfg); err != nil {
			return err
		}
	}
	return nil
}

func (sm *StreamManager) createOrUpdateStream(cfg nats.StreamConfig) error {
	_, err := sm.js.StreamInfo(cfg.Name)
	if err == nats.ErrStreamNotFound {
		if _, err := sm.js.AddStream(&cfg); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
		}
		sm.logger.Info("stream created", zap.String("name", cfg.Name))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to query stream %s: %w", cfg.Name, err)
	}

	if _, err := sm.js.UpdateStream(&cfg); err != nil {
		return fmt.Errorf("failed to update stream %s: %w", cfg.Name, err)
	}
	sm.logger.Info("stream updated", zap.String("name", cfg.Name))
	return nil
}
