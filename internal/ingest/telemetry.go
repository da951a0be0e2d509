// Package ingest consumes driver telemetry (location fixes and heartbeats)
// from Kafka and applies it to the driver registry.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// Applier is the part of the engine telemetry writes to.
type Applier interface {
	UpdateLocation(ctx context.Context, driverID string, loc models.Coord) error
	Heartbeat(ctx context.Context, driverID string) error
}

// Message is one telemetry record. A record may carry a location, a
// heartbeat, or both.
type Message struct {
	DriverID  string   `json:"driver_id"`
	Lat       *float64 `json:"lat,omitempty"`
	Lon       *float64 `json:"lon,omitempty"`
	Heartbeat bool     `json:"heartbeat"`
}

var errInvalidMessage = errors.New("invalid telemetry message")

func decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", errInvalidMessage, err)
	}
	if m.DriverID == "" {
		return Message{}, fmt.Errorf("%w: driver_id required", errInvalidMessage)
	}
	if (m.Lat == nil) != (m.Lon == nil) {
		return Message{}, fmt.Errorf("%w: lat and lon must be sent together", errInvalidMessage)
	}
	return m, nil
}

type TelemetryConsumer struct {
	reader   *kafka.Reader
	applier  Applier
	logger   *slog.Logger
	Attempts int
	Delay    time.Duration
}

func NewTelemetryConsumer(brokers []string, topic, group string, applier Applier, logger *slog.Logger) *TelemetryConsumer {
	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	return &TelemetryConsumer{reader: r, applier: applier, logger: logger, Attempts: 3, Delay: 200 * time.Millisecond}
}

// Run reads until ctx is done, backing off on broker errors.
func (c *TelemetryConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	c.logger.Info("telemetry consumer listening", "topic", c.reader.Config().Topic, "group", c.reader.Config().GroupID)

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("kafka read error", "error", err, "backoff", backoff.String())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second
		c.Handle(ctx, m.Value)
	}
}

// Handle applies one raw message and records the outcome.
func (c *TelemetryConsumer) Handle(ctx context.Context, value []byte) {
	msg, err := decode(value)
	if err != nil {
		observability.TelemetryMessages.WithLabelValues("invalid").Inc()
		c.logger.Debug("invalid telemetry", "error", err)
		return
	}
	if err := applyWithRetry(ctx, c.applier, msg, c.Attempts, c.Delay); err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidArgument) {
			observability.TelemetryMessages.WithLabelValues("invalid").Inc()
			return
		}
		observability.TelemetryMessages.WithLabelValues("error").Inc()
		c.logger.Warn("telemetry apply failed", "driver_id", msg.DriverID, "error", err)
		return
	}
	observability.TelemetryMessages.WithLabelValues("ok").Inc()
}

// applyWithRetry applies msg, retrying transient failures with doubling delay.
// Unknown drivers and bad coordinates are returned at once.
func applyWithRetry(ctx context.Context, a Applier, msg Message, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		if err = apply(ctx, a, msg); err == nil {
			return nil
		}
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidArgument) {
			return err
		}
	}
	return err
}

func apply(ctx context.Context, a Applier, msg Message) error {
	if msg.Lat != nil {
		if err := a.UpdateLocation(ctx, msg.DriverID, models.Coord{Lat: *msg.Lat, Lon: *msg.Lon}); err != nil {
			return err
		}
	}
	if msg.Heartbeat {
		return a.Heartbeat(ctx, msg.DriverID)
	}
	return nil
}
