package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/rahul3988/game-sub000/pkg/common/logger"
)

var ErrPermanent = errors.New("permanent messaging error")

const (
	maxStreamBytes = 64 * 1024 * 1024
	streamMaxAge   = 24 * time.Hour
)

// MessageQueue publishes round events to a JetStream stream and lets
// downstream tools consume them.
type MessageQueue interface {
	Enqueue(ctx context.Context, subject string, message []byte, options *EnqueueOptions) error
	// handler must not block for long; JetStream redelivers unacked messages.
	Dequeue(consumerName string, handler func(subject string, message []byte) error) error
	Close()
}

type EnqueueOptions struct {
	IdempotentKey string
}

type jetStreamQueue struct {
	streamName      string
	subjects        []string
	js              jetstream.JetStream
	consumerContext jetstream.ConsumeContext
}

// NewJetStreamQueue creates or updates a limits-retention stream so every
// consumer sees every event.
func NewJetStreamQueue(ctx context.Context, streamName string, subjects []string, nc *nats.Conn) (MessageQueue, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	if stream, err := js.Stream(ctx, streamName); err == nil {
		if info, err := stream.Info(ctx); err == nil {
			logger.Info("Stream found", "name", info.Config.Name, "subjects", info.Config.Subjects, "msgs", info.State.Msgs)
		}
	} else {
		logger.Warn("Stream not found, creating new stream", "stream", streamName)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        streamName,
		Description: "Round lifecycle events",
		Subjects:    subjects,
		MaxBytes:    maxStreamBytes,
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      streamMaxAge,
		Duplicates:  2 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", streamName, err)
	}

	return &jetStreamQueue{streamName: streamName, subjects: subjects, js: js}, nil
}

func (q *jetStreamQueue) Enqueue(ctx context.Context, subject string, message []byte, options *EnqueueOptions) error {
	header := nats.Header{}
	if options != nil && options.IdempotentKey != "" {
		header.Add(jetstream.MsgIDHeader, options.IdempotentKey)
	}

	_, err := q.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    message,
		Header:  header,
	})
	if err != nil {
		return fmt.Errorf("error enqueueing message: %w", err)
	}
	return nil
}

func (q *jetStreamQueue) Dequeue(consumerName string, handler func(subject string, message []byte) error) error {
	consumer, err := q.js.CreateOrUpdateConsumer(context.Background(), q.streamName, jetstream.ConsumerConfig{
		Name:           consumerName,
		Durable:        consumerName,
		FilterSubjects: q.subjects,
		DeliverPolicy:  jetstream.DeliverNewPolicy,
		AckPolicy:      jetstream.AckExplicitPolicy,
		MaxDeliver:     3,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	c, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := handler(msg.Subject(), msg.Data()); err != nil {
			if errors.Is(err, ErrPermanent) {
				_ = msg.Term()
				return
			}
			logger.Error("Error handling message", "subject", msg.Subject(), "err", err)
			_ = msg.Nak()
			return
		}
		if err := msg.Ack(); err != nil {
			logger.Error("Error acknowledging message", "err", err)
		}
	})
	if err != nil {
		return err
	}
	q.consumerContext = c
	return nil
}

func (q *jetStreamQueue) Close() {
	if q.consumerContext != nil {
		q.consumerContext.Stop()
	}
}
