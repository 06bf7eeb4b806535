// Package messaging publishes worker events to Kafka so that other services
// can follow fees, submissions and aborts without reading the worker's store.
package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bardlex/gomint/internal/ledger"
	"github.com/bardlex/gomint/pkg/circuit"
	"github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/log"
	"github.com/bardlex/gomint/pkg/retry"
)

const (
	eventBacklog   = 256
	publishTimeout = 10 * time.Second
)

// messageWriter is the part of *kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes protobuf-encoded events to one topic. Events recorded
// through the sink methods are queued and published by Run.
type Publisher struct {
	topic  string
	wallet string
	logger *log.Logger

	writer   messageWriter
	writerMu sync.Mutex
	closed   bool

	events chan Event

	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// NewPublisher creates a publisher for topic on brokers. Events are keyed by
// wallet so that one worker's events stay ordered within a partition.
func NewPublisher(brokers []string, topic, wallet string, logger *log.Logger) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Compression:  kafka.Snappy,
	}
	return newPublisher(writer, topic, wallet, logger)
}

func newPublisher(w messageWriter, topic, wallet string, logger *log.Logger) *Publisher {
	p := &Publisher{
		topic:  topic,
		wallet: wallet,
		logger: logger.WithComponent("messaging"),
		writer: w,
		events: make(chan Event, eventBacklog),
		circuitBreaker: circuit.New(&circuit.Config{
			Name:            "kafka",
			MaxFailures:     5,
			SuccessRequired: 3,
			Timeout:         15 * time.Second,
			ResetTimeout:    60 * time.Second,
		}),
		retryConfig: retry.NetworkConfig(),
	}
	p.logger.Info("created Kafka publisher", "topic", topic)
	return p
}

// PublishProto publishes a protobuf message to the publisher's topic
func (p *Publisher) PublishProto(ctx context.Context, key string, msg proto.Message) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "protobuf_marshal",
			"failed to marshal protobuf message").
			WithContext("topic", p.topic).
			WithContext("key", key)
	}

	return p.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, p.retryConfig, func() error {
			p.writerMu.Lock()
			closed := p.closed
			p.writerMu.Unlock()
			if closed {
				return errors.New(errors.ErrorTypeInternal, "publish_message", "publisher is closed")
			}

			kafkaMsg := kafka.Message{
				Key:   []byte(key),
				Value: data,
				Time:  time.Now(),
			}
			if err := p.writer.WriteMessages(ctx, kafkaMsg); err != nil {
				return errors.Wrap(err, errors.ErrorTypeMessaging, "publish_message",
					"failed to publish message to Kafka").
					WithContext("topic", p.topic).
					WithContext("key", key).
					WithContext("message_size", len(data))
			}

			p.logger.Debug("published message", "topic", p.topic, "key", key, "size", len(data))
			return nil
		})
	})
}

// Publish encodes ev and publishes it synchronously
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	msg, err := ev.Struct()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "encode_event",
			"failed to encode event").WithContext("kind", ev.Kind())
	}
	return p.PublishProto(ctx, p.wallet, msg)
}

// Decode parses a message value written by Publish
func Decode(value []byte) (*structpb.Struct, error) {
	msg := new(structpb.Struct)
	if err := proto.Unmarshal(value, msg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "protobuf_unmarshal",
			"failed to unmarshal event").WithContext("message_size", len(value))
	}
	return msg, nil
}

func (p *Publisher) enqueue(ev Event) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("event backlog full, dropping event", "kind", ev.Kind())
	}
}

// RecordFee implements ledger.Sink
func (p *Publisher) RecordFee(rec ledger.Record) {
	p.enqueue(FeeEvent{
		Wallet:     p.wallet,
		FeeKind:    rec.Kind.String(),
		Balance:    uint64(rec.Balance),
		Fee:        uint64(rec.Fee),
		Income:     uint64(rec.Income),
		RecordedAt: rec.Time,
	})
}

// RecordSubmission queues the outcome of one submission attempt
func (p *Publisher) RecordSubmission(seed string, difficulty uint, fails int, outcome string, txHash string) {
	p.enqueue(SubmissionEvent{
		Wallet:      p.wallet,
		Seed:        seed,
		Difficulty:  difficulty,
		Fails:       fails,
		Status:      outcome,
		TxHash:      txHash,
		SubmittedAt: time.Now(),
	})
}

// Abort publishes the exit of the worker, bypassing the queue
func (p *Publisher) Abort(ctx context.Context, status int, reason string) error {
	return p.Publish(ctx, AbortEvent{
		Wallet:    p.wallet,
		Status:    status,
		Reason:    reason,
		AbortedAt: time.Now(),
	})
}

// Run publishes queued events until ctx is done, then publishes what is left
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-p.events:
					p.send(ctx, ev)
				default:
					return
				}
			}
		case ev := <-p.events:
			p.send(ctx, ev)
		}
	}
}

func (p *Publisher) send(parent context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), publishTimeout)
	defer cancel()
	if err := p.Publish(ctx, ev); err != nil {
		p.logger.WithError(err).Warn("failed to publish event", "kind", ev.Kind())
	}
}

// Close closes the underlying writer
func (p *Publisher) Close() error {
	p.writerMu.Lock()
	defer p.writerMu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.writer.Close(); err != nil {
		p.logger.Error("failed to close producer", "topic", p.topic, "error", err)
		return err
	}
	return nil
}

var _ ledger.Sink = (*Publisher)(nil)
