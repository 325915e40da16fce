package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"

	appconfig "fundingdesk/config"
	"fundingdesk/internal/channel"
	"fundingdesk/logger"
	"fundingdesk/realtime"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// UpdatePublisher forwards every state update to a Kafka topic, keyed by
// category so each category stays ordered within its partition.
type UpdatePublisher struct {
	source SnapshotSource
	writer messageWriter
	log    *logger.Log

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

func NewUpdatePublisher(cfg appconfig.KafkaConfig, source SnapshotSource) (*UpdatePublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	p := newUpdatePublisher(source, &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
	})
	p.log.WithComponent("kafka_publisher").WithFields(logger.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Debug("kafka publisher initialized")
	return p, nil
}

func newUpdatePublisher(source SnapshotSource, w messageWriter) *UpdatePublisher {
	return &UpdatePublisher{source: source, writer: w, log: logger.GetLogger()}
}

func (p *UpdatePublisher) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("kafka publisher already running")
	}
	p.running = true
	p.mu.Unlock()

	sub := p.source.Subscribe("kafka_publisher")
	p.wg.Add(1)
	go p.run(ctx, sub)
	return nil
}

func (p *UpdatePublisher) run(ctx context.Context, sub *channel.Subscription) {
	defer p.wg.Done()
	defer sub.Unsubscribe()

	events := realtime.NewEventTracker(0)
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-sub.C():
			if !ok {
				return
			}
			if event, fresh := events.Next(p.source.Snapshot(), u); fresh {
				p.publish(ctx, u, event)
			}
		}
	}
}

func (p *UpdatePublisher) publish(ctx context.Context, u channel.Update, event realtime.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		p.log.WithComponent("kafka_publisher").WithError(err).Warn("failed to marshal update")
		return
	}
	msg := kafka.Message{
		Key:   []byte(u.Category),
		Value: data,
		Time:  u.At,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.WithComponent("kafka_publisher").WithError(err).Warn("failed to write message")
		return
	}
	logger.RecordChannelMessage("kafka_"+string(u.Category), len(data))
	p.log.WithComponent("kafka_publisher").WithFields(logger.Fields{
		"category": u.Category,
		"version":  event.Version,
	}).Debug("update written to kafka")
}

// Stop waits for the publisher to exit after ctx is cancelled and closes
// the writer.
func (p *UpdatePublisher) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	if err := p.writer.Close(); err != nil {
		p.log.WithComponent("kafka_publisher").WithError(err).Warn("failed to close kafka writer")
	}
	p.log.WithComponent("kafka_publisher").Debug("kafka publisher stopped")
}
