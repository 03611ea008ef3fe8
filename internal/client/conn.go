package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/fundraisely/quizsync/internal/config"
	"github.com/fundraisely/quizsync/internal/wire"
)

// ConnStatus is the connectivity state surfaced to the presentation layer.
type ConnStatus string

const (
	StatusDisconnected ConnStatus = "disconnected"
	StatusConnecting   ConnStatus = "connecting"
	StatusConnected    ConnStatus = "connected"
	StatusReconnecting ConnStatus = "reconnecting"
)

// ErrNotConnected is returned by Send while no channel is open.
var ErrNotConnected = errors.New("not connected")

const writeTimeout = 10 * time.Second

// connManager owns the single bidirectional channel per engine instance. It
// reconnects automatically with bounded attempts and capped exponential
// backoff, and never mutates domain data: only connectivity state.
type connManager struct {
	url    string
	dialer *websocket.Dialer
	clock  clockwork.Clock
	cfg    config.ReconnectConfig
	inbox  chan<- loopEvent

	mu      sync.Mutex
	ws      *websocket.Conn
	status  ConnStatus
	lastErr error
	attempt int
	epoch   int
}

func newConnManager(url string, cfg config.ReconnectConfig, clock clockwork.Clock, inbox chan<- loopEvent) *connManager {
	return &connManager{
		url:    url,
		dialer: websocket.DefaultDialer,
		clock:  clock,
		cfg:    cfg,
		inbox:  inbox,
		status: StatusDisconnected,
	}
}

// Status returns the current connectivity state.
func (m *connManager) Status() ConnStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// LastError returns the most recent connection error.
func (m *connManager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Send writes one envelope to the channel.
func (m *connManager) Send(env wire.Envelope) error {
	m.mu.Lock()
	ws := m.ws
	m.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

// Run drives the connect/read/reconnect cycle until ctx is cancelled or the
// retry budget is exhausted.
func (m *connManager) Run(ctx context.Context) error {
	firstConnect := true
	for {
		if ctx.Err() != nil {
			m.setStatus(StatusDisconnected)
			return ctx.Err()
		}

		m.mu.Lock()
		attempt := m.attempt
		m.mu.Unlock()
		if attempt > m.cfg.MaxAttempts {
			err := m.LastError()
			m.setStatus(StatusDisconnected)
			m.post(ctx, evtGaveUp{err: err})
			return fmt.Errorf("reconnect attempts exhausted: %w", err)
		}

		if firstConnect {
			m.setStatus(StatusConnecting)
		} else {
			m.setStatus(StatusReconnecting)
		}

		ws, _, err := m.dialer.DialContext(ctx, m.url, nil)
		if err != nil {
			m.mu.Lock()
			m.lastErr = err
			m.attempt++
			delay := m.backoffLocked()
			m.mu.Unlock()
			log.Warn().Err(err).Dur("retry_in", delay).Str("url", m.url).Msg("dial failed")
			if !m.sleep(ctx, delay) {
				m.setStatus(StatusDisconnected)
				return ctx.Err()
			}
			continue
		}

		m.mu.Lock()
		m.ws = ws
		m.attempt = 0
		m.epoch++
		epoch := m.epoch
		m.status = StatusConnected
		m.mu.Unlock()
		firstConnect = false

		log.Info().Int("epoch", epoch).Str("url", m.url).Msg("channel connected")
		m.post(ctx, evtConnected{epoch: epoch})

		readErr := m.readLoop(ctx, ws, epoch)
		ws.Close()

		m.mu.Lock()
		m.ws = nil
		m.lastErr = readErr
		m.attempt++
		delay := m.backoffLocked()
		m.mu.Unlock()

		m.setStatus(StatusReconnecting)
		m.post(ctx, evtDisconnected{epoch: epoch, err: readErr})

		if ctx.Err() != nil {
			m.setStatus(StatusDisconnected)
			return ctx.Err()
		}
		log.Warn().Err(readErr).Dur("retry_in", delay).Msg("channel dropped")
		if !m.sleep(ctx, delay) {
			m.setStatus(StatusDisconnected)
			return ctx.Err()
		}
	}
}

func (m *connManager) readLoop(ctx context.Context, ws *websocket.Conn, epoch int) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// Malformed frames are logged and skipped; the channel stays up.
			log.Warn().Err(err).Msg("malformed envelope on channel")
			continue
		}
		if !m.post(ctx, evtEnvelope{epoch: epoch, env: env}) {
			return ctx.Err()
		}
	}
}

func (m *connManager) post(ctx context.Context, ev loopEvent) bool {
	select {
	case m.inbox <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *connManager) setStatus(s ConnStatus) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// backoffLocked doubles the base delay per consecutive failure, capped.
func (m *connManager) backoffLocked() time.Duration {
	d := m.cfg.BaseDelay
	for i := 1; i < m.attempt; i++ {
		d *= 2
		if d >= m.cfg.MaxDelay {
			return m.cfg.MaxDelay
		}
	}
	if d > m.cfg.MaxDelay {
		d = m.cfg.MaxDelay
	}
	return d
}

func (m *connManager) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-m.clock.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
