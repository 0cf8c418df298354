package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"meetcore/internal/core/domain"
	"meetcore/internal/core/ports"
	"meetcore/pkg/retry"
	"meetcore/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Inbound signaling message types.
const (
	TypePeerJoined      = "peerJoined"
	TypePeerLeft        = "peerLeft"
	TypeNewProducer     = "newProducer"
	TypeProducerPaused  = "producerPaused"
	TypeProducerResumed = "producerResumed"
	TypeProducerClosed  = "producerClosed"
)

// ErrHandshakeRejected is returned when the server refuses the upgrade with 401 or 403.
var ErrHandshakeRejected = errors.New("signaling handshake rejected")

type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type PeerPayload struct {
	PeerID      domain.PeerID `json:"peerId"`
	DisplayName string        `json:"displayName"`
}

type ProducerPayload struct {
	PeerID domain.PeerID `json:"peerId"`
	domain.ProducerPayload
}

type Config struct {
	URL             string
	Header          http.Header
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	Retry           retry.Config

	// OnConnect runs after every successful dial, before frames are read. It is
	// where the caller re-joins so the directory is fresh after a reconnect.
	OnConnect func(ctx context.Context) error

	// OnStateChange sees connected when a connection opens and disconnected when it
	// drops. The CLI uses it to gate the stats poller when no media engine is attached.
	OnStateChange func(state domain.ConnectionState)
}

func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		PingInterval:    30 * time.Second,
		PongTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		MaxMessageBytes: 64 * 1024,
		Retry:           retry.DefaultConfig(),
	}
}

// Client reads session events from the signaling server and applies them to a
// session directory.
type Client struct {
	cfg       Config
	dialer    *websocket.Dialer
	directory ports.SessionDirectory
	connected atomic.Bool
	logger    *zap.SugaredLogger
}

func NewClient(cfg Config, directory ports.SessionDirectory, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = 2 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	cfg.Retry.NonRetryable = append(cfg.Retry.NonRetryable, ErrHandshakeRejected)
	return &Client{
		cfg:       cfg,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		directory: directory,
		logger:    logger,
	}
}

// Connected reports whether a signaling connection is currently open.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Run keeps a signaling connection open until ctx is done. A dropped connection is
// redialed with backoff; Run returns once dialing gives up.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, err := retry.RetryWithResult(ctx, c.cfg.Retry, func() (*websocket.Conn, error) {
			return c.dial(ctx)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("connect signaling: %w", err)
		}

		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warnw("signaling connection lost, reconnecting", "url", c.cfg.URL, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.Retry.InitialDelay):
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", ErrHandshakeRejected, resp.StatusCode)
		}
		c.logger.Debugw("signaling dial failed", "url", c.cfg.URL, "error", err)
		return nil, err
	}
	return conn, nil
}

func (c *Client) notifyState(state domain.ConnectionState) {
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(state)
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	c.connected.Store(true)
	c.notifyState(domain.ConnectionConnected)
	defer func() {
		c.connected.Store(false)
		c.notifyState(domain.ConnectionDisconnected)
	}()
	c.logger.Infow("signaling connected", "url", c.cfg.URL)

	if c.cfg.OnConnect != nil {
		if err := c.cfg.OnConnect(ctx); err != nil {
			c.logger.Warnw("signaling on-connect hook failed", "error", err)
		}
	}

	if c.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(c.cfg.MaxMessageBytes)
	}
	conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	frames := make(chan []byte, 16)
	readErr := make(chan error, 1)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
			select {
			case frames <- data:
			case <-done:
				return
			}
		}
	}()

	pingTicker := time.NewTicker(c.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return ctx.Err()

		case data := <-frames:
			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				c.logger.Warnw("malformed signaling frame dropped", "error", err, "bytes", len(data))
				continue
			}
			if err := c.HandleMessage(ctx, msg); err != nil {
				c.logger.Infow("signaling message not applied", "type", msg.Type, "error", err)
			}

		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				return fmt.Errorf("send ping: %w", err)
			}

		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Infow("error reading signaling frame", "error", err)
			}
			return err
		}
	}
}

// HandleMessage applies one signaling message to the directory. Unknown types are
// ignored.
func (c *Client) HandleMessage(ctx context.Context, msg Message) error {
	if msg.Type == "" {
		return fmt.Errorf("%w: message type is required", domain.ErrDecode)
	}

	switch msg.Type {
	case TypePeerJoined:
		var p PeerPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		ctx, span := tracing.TraceSignalMessage(ctx, msg.Type, string(p.PeerID))
		defer span.End()
		c.directory.UpsertPeer(ctx, p.PeerID, p.DisplayName)
		return nil

	case TypePeerLeft:
		var p PeerPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		ctx, span := tracing.TraceSignalMessage(ctx, msg.Type, string(p.PeerID))
		defer span.End()
		err := c.directory.RemovePeer(ctx, p.PeerID)
		tracing.RecordError(ctx, err)
		return err

	case TypeNewProducer, TypeProducerPaused, TypeProducerResumed:
		var p ProducerPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		switch msg.Type {
		case TypeProducerPaused:
			p.Paused = true
		case TypeProducerResumed:
			p.Paused = false
		}
		ctx, span := tracing.TraceSignalMessage(ctx, msg.Type, string(p.PeerID))
		defer span.End()
		err := c.directory.ApplyProducerEvent(ctx, p.PeerID, p.ProducerPayload)
		tracing.RecordError(ctx, err)
		return err

	case TypeProducerClosed:
		var p ProducerPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		ctx, span := tracing.TraceSignalMessage(ctx, msg.Type, string(p.PeerID))
		defer span.End()
		err := c.directory.CloseProducer(ctx, p.PeerID, p.ProducerID)
		tracing.RecordError(ctx, err)
		return err

	default:
		c.logger.Debugw("unknown signaling message ignored", "type", msg.Type)
		return nil
	}
}

func decode(msg Message, v interface{ peerID() domain.PeerID }) error {
	if len(msg.Data) == 0 {
		return fmt.Errorf("%w: %s without data", domain.ErrDecode, msg.Type)
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrDecode, msg.Type, err)
	}
	if v.peerID() == "" {
		return fmt.Errorf("%w: %s without peerId", domain.ErrDecode, msg.Type)
	}
	return nil
}

func (p *PeerPayload) peerID() domain.PeerID     { return p.PeerID }
func (p *ProducerPayload) peerID() domain.PeerID { return p.PeerID }
