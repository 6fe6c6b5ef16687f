// Package natsbus publishes connection events to NATS.
package natsbus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/jbweber/virtwatch/internal/conn"
)

// DefaultSubject is the subject prefix used when none is configured.
const DefaultSubject = "virtwatch"

// Message is the JSON payload published for every event.
type Message struct {
	Type  string           `json:"type"`
	URI   string           `json:"uri"`
	Kind  string           `json:"kind,omitempty"`
	Name  string           `json:"name,omitempty"`
	UUID  string           `json:"uuid,omitempty"`
	State string           `json:"state,omitempty"`
	Info  *conn.ObjectInfo `json:"info,omitempty"`
	Time  time.Time        `json:"time"`
}

// publisher is the subset of *nats.Conn used by Publisher.
type publisher interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
	IsClosed() bool
}

// Publisher implements conn.Observer by publishing each event to NATS.
type Publisher struct {
	nc     publisher
	prefix string
	log    zerolog.Logger
}

// Connect dials url and returns a Publisher using subject as prefix.
func Connect(url, subject string, log zerolog.Logger) (*Publisher, error) {
	log = log.With().Str("component", "natsbus").Logger()
	opts := []nats.Option{
		nats.Name("virtwatch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return newPublisher(nc, subject, log), nil
}

func newPublisher(nc publisher, subject string, log zerolog.Logger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{nc: nc, prefix: subject, log: log}
}

// Notify implements conn.Observer. Publish failures are logged and dropped.
func (p *Publisher) Notify(ev conn.Event) {
	msg := NewMessage(ev)
	data, err := json.Marshal(msg)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to encode event")
		return
	}

	subject := p.Subject(ev)
	if p.nc.IsClosed() {
		p.log.Debug().Str("subject", subject).Msg("NATS closed, dropping event")
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("Failed to publish event")
	}
}

// Subject returns <prefix>.<uri-token>.<kind>.<type> for ev. Connection
// state events use "connection" as the kind.
func (p *Publisher) Subject(ev conn.Event) string {
	kind := "connection"
	if ev.Type != conn.EventStateChanged {
		kind = ev.Kind.String()
	}
	return strings.Join([]string{p.prefix, Token(ev.URI), kind, ev.Type.String()}, ".")
}

// Close drains pending messages and closes the NATS connection.
func (p *Publisher) Close() error {
	if p.nc == nil || p.nc.IsClosed() {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}

// NewMessage converts ev to its published form.
func NewMessage(ev conn.Event) Message {
	msg := Message{
		Type: ev.Type.String(),
		URI:  ev.URI,
		Time: ev.Time.UTC(),
	}
	if ev.Type == conn.EventStateChanged {
		msg.State = ev.State.String()
		return msg
	}

	msg.Kind = ev.Kind.String()
	if ev.Object != nil {
		info := ev.Object.Info()
		msg.Name = info.Name
		msg.UUID = info.UUID
		msg.State = info.State
		msg.Info = &info
	}
	return msg
}

// Token turns a hypervisor URI into a single NATS subject token. Every run of
// characters outside [A-Za-z0-9_-] becomes one underscore.
func Token(uri string) string {
	var b strings.Builder
	pending := false
	for _, r := range uri {
		valid := r == '_' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !valid {
			pending = true
			continue
		}
		if pending && b.Len() > 0 {
			b.WriteByte('_')
		}
		pending = false
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
