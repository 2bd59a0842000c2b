package event

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang/glog"
	"github.com/segmentio/kafka-go"
)

const (
	BackoffMinInterval = 100 * time.Millisecond
	BackoffMaxInterval = 10 * time.Second
	BackoffMultiplier  = 1.5

	kafkaReadTimeout = 10 * time.Second
)

// Handler processes one event. An error makes the consumer retry the same
// event after a backoff.
type Handler func(ctx context.Context, e *Event) error

// Consumer reads events from the topic and commits each one after the
// handler accepted it, so delivery is at least once.
type Consumer struct {
	reader  IKafkaReader
	handler Handler
}

func NewKafkaConsumer(brokers []string, topic, groupID string, h Handler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   topic,
		Dialer: &kafka.Dialer{
			Timeout:   kafkaReadTimeout,
			DualStack: true,
		},
	})
	return NewConsumerWithReader(r, h)
}

func NewConsumerWithReader(r IKafkaReader, h Handler) *Consumer {
	return &Consumer{reader: r, handler: h}
}

// Run consumes until ctx is done, then closes the reader.
func (c *Consumer) Run(ctx context.Context) {
	glog.Info("consumer: loop enter")
	defer func() {
		if err := c.reader.Close(); err != nil {
			glog.Errorf("consumer: close reader error: %v", err)
		}
		glog.Info("consumer: loop exited")
	}()

	var sleep time.Duration
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if isCanceled(ctx, err) {
				return
			}
			glog.Errorf("consumer: fetch from kafka error: %v", err)
			if !wait(ctx, &sleep) {
				return
			}
			continue
		}
		sleep = 0

		// bad format: skip but commit, or it is fetched forever.
		if e := decodeMessage(&msg); e != nil {
			for {
				err := c.handler(ctx, e)
				if err == nil {
					break
				}
				if isCanceled(ctx, err) {
					return
				}
				glog.Errorf("consumer: handle %s event of %s error: %v", e.Type, e.ConversationID, err)
				if !wait(ctx, &sleep) {
					return
				}
			}
			sleep = 0
		}

		for {
			err := c.reader.CommitMessages(ctx, msg)
			if err == nil {
				break
			}
			// uncommitted messages are fetched again after a restart.
			if isCanceled(ctx, err) {
				return
			}
			glog.Errorf("consumer: commit to kafka error: %v", err)
			if !wait(ctx, &sleep) {
				return
			}
		}
		sleep = 0
	}
}

func decodeMessage(msg *kafka.Message) *Event {
	var e Event
	if err := json.Unmarshal(msg.Value, &e); err != nil {
		glog.Errorf("consumer: skip bad message at offset %d: %v", msg.Offset, err)
		return nil
	}
	if e.Type == "" || e.ConversationID == "" {
		glog.Errorf("consumer: skip incomplete event at offset %d", msg.Offset)
		return nil
	}
	return &e
}

func isCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

// wait sleeps for the next backoff interval, returns false if ctx is done.
func wait(ctx context.Context, sleep *time.Duration) bool {
	backoff(sleep)
	select {
	case <-time.After(*sleep):
		return true
	case <-ctx.Done():
		return false
	}
}

func backoff(d *time.Duration) {
	if *d == 0 {
		*d = BackoffMinInterval
	} else {
		*d = time.Duration(float64(*d) * BackoffMultiplier)
		if *d < BackoffMaxInterval {
			*d = d.Truncate(time.Millisecond)
		} else {
			*d = BackoffMaxInterval
		}
	}
}
