// internal/queue/queue.go

// Package queue publishes execution lifecycle events to RabbitMQ for the
// reporting layer. Publishing is best-effort and optional: with no broker
// configured the engine runs unchanged.
package queue

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"

	"github.com/unclebandit/outreach-engine/internal/model"
)

// EventType classifies an execution lifecycle event.
type EventType string

const (
	EventEnrolled  EventType = "enrolled"
	EventSent      EventType = "sent"
	EventFailed    EventType = "failed"
	EventCompleted EventType = "completed"
	EventCancelled EventType = "cancelled"
)

// ExecutionEvent is the JSON payload consumed by dashboards and analytics.
type ExecutionEvent struct {
	Type        EventType `json:"type"`
	ExecutionID string    `json:"execution_id"`
	TenantID    int       `json:"tenant_id"`
	SequenceID  int       `json:"sequence_id"`
	ContactID   int       `json:"contact_id"`
	StepID      string    `json:"step_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

// Publisher is what the dispatcher needs to emit events.
type Publisher interface {
	Publish(event ExecutionEvent)
}

// Event builds an event for an execution at the current step.
func Event(t EventType, exec *model.Execution, reason string) ExecutionEvent {
	return ExecutionEvent{
		Type:        t,
		ExecutionID: exec.ID.String(),
		TenantID:    exec.TenantID,
		SequenceID:  exec.SequenceID,
		ContactID:   exec.ContactID,
		StepID:      exec.CurrentStepID,
		Reason:      reason,
		At:          time.Now().UTC(),
	}
}

// AMQPPublisher publishes to a durable queue over RabbitMQ.
type AMQPPublisher struct {
	channel *amqp.Channel
	queue   string
}

// NewAMQPPublisher connects and declares the queue. An empty URL disables
// publishing and returns a NopPublisher.
func NewAMQPPublisher(url, queueName string) (Publisher, func(), error) {
	if url == "" {
		log.Info().Msg("RABBITMQ_URL is not set, event publishing disabled")
		return NopPublisher{}, func() {}, nil
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if _, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}

	log.Info().Str("queue", queueName).Msg("RabbitMQ connection established")
	closeFn := func() {
		ch.Close()
		conn.Close()
	}
	return &AMQPPublisher{channel: ch, queue: queueName}, closeFn, nil
}

// Publish sends one event. Failures are logged and dropped: events feed
// dashboards, they never gate the execution state machine.
func (p *AMQPPublisher) Publish(event ExecutionEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("could not marshal execution event")
		return
	}
	err = p.channel.Publish(
		"",      // exchange (default)
		p.queue, // routing key = queue
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		log.Error().Err(err).Str("queue", p.queue).Msg("could not publish execution event")
		return
	}
	log.Debug().Str("type", string(event.Type)).Str("execution_id", event.ExecutionID).Msg("published execution event")
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(ExecutionEvent) {}
