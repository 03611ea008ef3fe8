package server

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/fundraisely/quizsync/internal/config"
	"github.com/fundraisely/quizsync/internal/wire"
)

// Relay publishes room lifecycle events to NATS for external collaborators:
// the payment/prize reconciliation ledger consumes phase transitions into
// distributing_prizes and complete, dashboards consume the rest.
type Relay struct {
	nc     *nats.Conn
	prefix string
}

// NewRelay connects to NATS with infinite reconnects, matching the room
// server's lifetime.
func NewRelay(cfg config.RelayConfig) (*Relay, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &Relay{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

// Publish sends one room event. Delivery is best-effort; collaborators that
// need a complete history read the authoritative state API instead.
func (r *Relay) Publish(roomID string, env wire.Envelope) {
	subject := fmt.Sprintf("%s.%s.%s", r.prefix, roomID, env.Type)
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("marshal relay event")
		return
	}
	if err := r.nc.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("publish relay event")
		return
	}
	log.Debug().Str("subject", subject).Str("type", string(env.Type)).Msg("relay event published")
}

// Close drains and closes the NATS connection.
func (r *Relay) Close() {
	if r.nc != nil {
		r.nc.Close()
	}
}
