package events

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"resortwala/internal/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const defaultKafkaQueueSize = 1024

// KafkaPublisher forwards bus events to a Kafka topic keyed by booking or
// property id. Handle only queues the message; a single goroutine writes
// the queue, so a slow or unreachable broker never holds up Publish.
type KafkaPublisher struct {
	writer  messageWriter
	source  string
	timeout time.Duration
	queue   chan kafka.Message
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	logger  *zerolog.Logger
}

func NewKafkaPublisher(cfg config.KafkaConfig, source string, logger *zerolog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // события одной брони в одной партиции
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  3,
		Logger:       kafka.LoggerFunc(func(string, ...interface{}) {}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error().Msgf(msg, args...)
		}),
	}
	return newKafkaPublisher(writer, source, cfg.QueueSize, logger), nil
}

func newKafkaPublisher(w messageWriter, source string, queueSize int, logger *zerolog.Logger) *KafkaPublisher {
	if queueSize <= 0 {
		queueSize = defaultKafkaQueueSize
	}
	p := &KafkaPublisher{
		writer:  w,
		source:  source,
		timeout: 5 * time.Second,
		queue:   make(chan kafka.Message, queueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go p.run()
	return p
}

// Attach subscribes the publisher to every booking and calendar event.
func (p *KafkaPublisher) Attach(bus *EventBus) {
	bus.SubscribeMany(BookingEvents, p.Handle)
	bus.SubscribeMany(CalendarEvents, p.Handle)
}

// Handle queues one event for delivery. A full queue drops the event and
// reports it to the bus.
func (p *KafkaPublisher) Handle(event *Event) error {
	msg := kafka.Message{
		Key:   []byte(partitionKey(event)),
		Value: event.Payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "event-id", Value: []byte(strconv.FormatInt(event.ID, 10))},
			{Key: "source", Value: []byte(p.source)},
		},
	}

	select {
	case <-p.stop:
		return fmt.Errorf("kafka publish %s: publisher closed", event.Type)
	default:
	}

	select {
	case p.queue <- msg:
		return nil
	default:
		p.logger.Warn().Str("event", event.Type).Int64("event_id", event.ID).Msg("kafka queue full, event dropped")
		return fmt.Errorf("kafka publish %s: queue full", event.Type)
	}
}

func (p *KafkaPublisher) run() {
	defer close(p.done)
	for {
		select {
		case msg := <-p.queue:
			p.write(msg)
		case <-p.stop:
			// дописываем то, что уже в очереди
			for {
				select {
				case msg := <-p.queue:
					p.write(msg)
				default:
					return
				}
			}
		}
	}
}

func (p *KafkaPublisher) write(msg kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn().Err(err).Str("event", header(msg, "event-type")).Msg("kafka publish failed")
	}
}

// Close flushes queued events and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.once.Do(func() { close(p.stop) })
	<-p.done
	return p.writer.Close()
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func partitionKey(event *Event) string {
	var ids struct {
		BookingID  int64 `json:"booking_id"`
		PropertyID int64 `json:"property_id"`
	}
	if err := event.Decode(&ids); err != nil {
		return event.Type
	}
	if ids.BookingID != 0 {
		return "booking-" + strconv.FormatInt(ids.BookingID, 10)
	}
	return "property-" + strconv.FormatInt(ids.PropertyID, 10)
}
