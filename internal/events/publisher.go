package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/elfworks/evolve/pkg/models"
)

// Publisher emits learning-subsystem events for downstream consumers.
// Publishing is always best-effort; a failed publish never affects the
// operation that triggered it.
type Publisher interface {
	PublishEpisode(teamName string, ep *models.Episode)
	PublishLearning(teamName string, l *models.Learning)
	PublishEvolution(teamID string, ev *models.AgentEvolution)
	Close()
}

// NatsPublisher publishes events to NATS JetStream subjects
// evolve.episodes.<team>, evolve.learnings.<team>, evolve.evolutions.<team>.
type NatsPublisher struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	streamName string
}

// Config holds NATS configuration
type Config struct {
	URL        string        // NATS server URL (e.g., "nats://nats:4222")
	StreamName string        // JetStream stream name (default: "EVOLVE")
	Timeout    time.Duration // Connection timeout
}

// NewNatsPublisher connects to NATS and ensures the event stream exists.
func NewNatsPublisher(cfg Config) (*NatsPublisher, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "EVOLVE"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p := &NatsPublisher{conn: nc, js: js, streamName: cfg.StreamName}
	if err := p.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	log.Printf("Connected to NATS at %s with JetStream stream %s", cfg.URL, cfg.StreamName)
	return p, nil
}

func (p *NatsPublisher) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:      p.streamName,
		Subjects:  []string{"evolve.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	}

	if _, err := p.js.StreamInfo(p.streamName); err != nil {
		if _, err := p.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		log.Printf("Created JetStream stream: %s", p.streamName)
		return nil
	}
	if _, err := p.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

// PublishEpisode implements Publisher.
func (p *NatsPublisher) PublishEpisode(teamName string, ep *models.Episode) {
	p.publish(fmt.Sprintf("evolve.episodes.%s", teamName), ep)
}

// PublishLearning implements Publisher.
func (p *NatsPublisher) PublishLearning(teamName string, l *models.Learning) {
	p.publish(fmt.Sprintf("evolve.learnings.%s", teamName), l)
}

// PublishEvolution implements Publisher.
func (p *NatsPublisher) PublishEvolution(teamID string, ev *models.AgentEvolution) {
	p.publish(fmt.Sprintf("evolve.evolutions.%s", teamID), ev)
}

func (p *NatsPublisher) publish(subject string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to marshal event for %s: %v", subject, err)
		return
	}
	if _, err := p.js.PublishAsync(subject, data); err != nil {
		log.Printf("Failed to publish event to %s: %v", subject, err)
	}
}

// Close drains the connection.
func (p *NatsPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// NoopPublisher discards every event. Used when no NATS URL is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishEpisode(string, *models.Episode)          {}
func (NoopPublisher) PublishLearning(string, *models.Learning)        {}
func (NoopPublisher) PublishEvolution(string, *models.AgentEvolution) {}
func (NoopPublisher) Close()                                          {}
