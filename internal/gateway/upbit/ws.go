package upbit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"wonbot/internal/logger"
)

const (
	defaultStreamURL      = "wss://api.upbit.com/websocket/v1"
	defaultPingInterval   = 30 * time.Second
	defaultIdleTimeout    = 120 * time.Second
	defaultReconnectDelay = 3 * time.Second
	eventBufferSize       = 256
)

// StreamConfig holds push-stream settings. Credentials are only needed for
// private channels (myOrder/myAsset).
type StreamConfig struct {
	URL            string
	AccessKey      string
	SecretKey      string
	PingInterval   time.Duration
	IdleTimeout    time.Duration
	ReconnectDelay time.Duration
}

type subscription struct {
	Type    string
	Codes   []string
	Private bool
}

// StreamClient maintains the push-stream connection: it reconnects with
// backoff, pings on an interval, forces a reconnect when the stream goes
// idle, and replays the retained subscription set after every reconnect.
// Decoded events are delivered on a single buffered channel; the client
// never touches shared engine state itself.
type StreamClient struct {
	cfg    StreamConfig
	signer *authSigner

	mu      sync.Mutex
	subs    map[string]subscription
	conn    *websocket.Conn
	writeMu sync.Mutex

	events chan PushEvent

	connected  atomic.Bool
	reconnects atomic.Uint64
	dropped    atomic.Uint64
}

// StreamStats is a point-in-time view of connection health.
type StreamStats struct {
	Connected  bool
	Reconnects uint64
	Dropped    uint64
}

func NewStreamClient(cfg StreamConfig) *StreamClient {
	if cfg.URL == "" {
		cfg.URL = defaultStreamURL
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	s := &StreamClient{
		cfg:    cfg,
		subs:   make(map[string]subscription),
		events: make(chan PushEvent, eventBufferSize),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		s.signer = newAuthSigner(cfg.AccessKey, cfg.SecretKey)
	}
	return s
}

// Events is the single ingress channel the engine consumes.
func (s *StreamClient) Events() <-chan PushEvent { return s.events }

// Stats reports connection health for status snapshots.
func (s *StreamClient) Stats() StreamStats {
	return StreamStats{
		Connected:  s.connected.Load(),
		Reconnects: s.reconnects.Load(),
		Dropped:    s.dropped.Load(),
	}
}

// Subscribe registers a channel subscription, replacing any earlier
// subscription of the same type. The set is retained and replayed in full
// after every reconnect, so subscribing is idempotent.
func (s *StreamClient) Subscribe(subType string, codes []string, private bool) error {
	sub := subscription{Type: subType, Codes: append([]string(nil), codes...), Private: private}
	if private && s.signer == nil {
		return fmt.Errorf("private subscription %q requires credentials", subType)
	}

	s.mu.Lock()
	s.subs[sub.Type] = sub
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return s.sendSubscription(conn, sub)
}

// Run owns the connection lifecycle until ctx is cancelled.
func (s *StreamClient) Run(ctx context.Context) error {
	bo := &backoff.Backoff{
		Min:    s.cfg.ReconnectDelay,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := s.runOnce(ctx); err != nil {
			logger.Warnf("push stream disconnected: %v", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := sleepCtx(ctx, bo.Duration()); err != nil {
			return nil
		}
	}
}

func (s *StreamClient) runOnce(ctx context.Context) error {
	header := http.Header{}
	if s.hasPrivateSubscription() {
		bearer, err := s.signer.bearer("")
		if err != nil {
			return err
		}
		header.Set("Authorization", bearer)
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	defer conn.Close()

	s.reconnects.Add(1)
	s.connected.Store(true)
	defer s.connected.Store(false)

	s.mu.Lock()
	s.conn = conn
	subs := make([]subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	for _, sub := range subs {
		if err := s.sendSubscription(conn, sub); err != nil {
			return err
		}
	}
	logger.Infof("push stream connected, %d subscription(s) replayed", len(subs))

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go s.pingLoop(pingCtx, conn)

	// The read deadline doubles as the idle watchdog: no frame within the
	// idle timeout fails the read and forces a reconnect.
	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			return err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.dispatch(raw)
	}
}

func (s *StreamClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *StreamClient) dispatch(raw []byte) {
	event := decodePushEvent(raw)
	if event.Kind == EventUnknown {
		return
	}
	select {
	case s.events <- event:
	default:
		logger.Warnf("push event buffer full, dropped message (total dropped %d)", s.dropped.Add(1))
	}
}

func (s *StreamClient) hasPrivateSubscription() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.Private {
			return true
		}
	}
	return false
}

func (s *StreamClient) sendSubscription(conn *websocket.Conn, sub subscription) error {
	body := map[string]any{"type": sub.Type, "isOnlyRealtime": true}
	if len(sub.Codes) > 0 {
		body["codes"] = sub.Codes
	}
	payload, err := json.Marshal([]any{
		map[string]any{"ticket": uuid.NewString()},
		body,
		map[string]any{"format": "DEFAULT"},
	})
	if err != nil {
		return fmt.Errorf("marshal subscription %q: %w", sub.Type, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("send subscription %q: %w", sub.Type, err)
	}
	return nil
}
