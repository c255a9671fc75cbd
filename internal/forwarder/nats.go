package forwarder

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/daimoniac/docshield/internal/audit"
	"github.com/daimoniac/docshield/internal/errors"
	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"
)

// DefaultSubject is the NATS subject security events are published on
const DefaultSubject = "security.events"

// publisher is the part of *nats.Conn the sink uses
type publisher interface {
	Publish(subject string, data []byte) error
	Close()
}

// NATSSink publishes events as JSON to a NATS subject behind a circuit
// breaker
type NATSSink struct {
	conn    publisher
	subject string
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewNATSSink connects to url and publishes to subject
func NewNATSSink(url, subject string, logger *slog.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("docshield"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.NewTransientf("failed to connect to nats at %s: %w", url, err)
	}
	return newNATSSink(nc, subject, logger), nil
}

func newNATSSink(conn publisher, subject string, logger *slog.Logger) *NATSSink {
	if subject == "" {
		subject = DefaultSubject
	}
	s := &NATSSink{conn: conn, subject: subject, logger: logger}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "nats-sink",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return s
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Send(ctx context.Context, event audit.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.NewPermanentf("failed to encode event %s: %w", event.EventID, err)
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, s.conn.Publish(s.subject, data)
	})
	if err != nil {
		// an open breaker and publish failures both clear up on their own
		return errors.NewTransientf("failed to publish event %s: %w", event.EventID, err)
	}
	return nil
}

// State returns the circuit breaker state
func (s *NATSSink) State() gobreaker.State {
	return s.breaker.State()
}

func (s *NATSSink) Close() error {
	s.conn.Close()
	return nil
}
