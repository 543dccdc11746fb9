package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	conn     *Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher
func NewPublisher(conn *Connection, exchange string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// GeofenceViolationEvent is published when an evaluation opens or re-detects
// a violation for a device.
type GeofenceViolationEvent struct {
	Hostname       string    `json:"hostname"`
	LocationID     string    `json:"location_id"`
	LocationName   string    `json:"location_name"`
	ViolationType  string    `json:"violation_type"`
	DistanceMeters *float64  `json:"distance_meters"`
	RadiusMeters   float64   `json:"radius_meters"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
}

// TamperOfflineEvent is published for every tamper event recorded by the
// offline sweep.
type TamperOfflineEvent struct {
	Hostname       string    `json:"hostname"`
	Severity       string    `json:"severity"`
	MinutesOffline float64   `json:"minutes_offline"`
	LastSeenBefore time.Time `json:"last_seen_before"`
	DetectedAt     time.Time `json:"detected_at"`
}

// PublishGeofenceViolation publishes a geofence violation event
func (p *Publisher) PublishGeofenceViolation(ctx context.Context, event GeofenceViolationEvent, routingKey string) error {
	if err := p.publish(ctx, event, routingKey); err != nil {
		return err
	}

	p.logger.Debug("published geofence violation event",
		zap.String("routing_key", routingKey),
		zap.String("hostname", event.Hostname),
		zap.String("violation_type", event.ViolationType),
	)
	return nil
}

// PublishTamperOffline publishes an offline tamper event
func (p *Publisher) PublishTamperOffline(ctx context.Context, event TamperOfflineEvent, routingKey string) error {
	if err := p.publish(ctx, event, routingKey); err != nil {
		return err
	}

	p.logger.Debug("published tamper offline event",
		zap.String("routing_key", routingKey),
		zap.String("hostname", event.Hostname),
		zap.String("severity", event.Severity),
	)
	return nil
}

func (p *Publisher) publish(ctx context.Context, event any, routingKey string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
