// Package websocket serves the task channels over websocket connections.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/slok/orca/internal/channel"
	"github.com/slok/orca/internal/log"
	"github.com/slok/orca/internal/model"
)

const (
	DefaultWriteTimeout = 10 * time.Second
	DefaultPingInterval = 30 * time.Second
)

var errConnClosed = errors.New("connection closed")

// ChannelManager is the part of the channel manager used by the websocket handler.
type ChannelManager interface {
	Attach(taskID string, sink channel.Sink) (detach func(), err error)
	SubmitInput(taskID, text string) error
}

// HandlerConfig is the websocket handler configuration.
type HandlerConfig struct {
	Manager      ChannelManager
	WriteTimeout time.Duration
	PingInterval time.Duration
	// CheckOrigin is the upgrader origin check, by default all origins are accepted.
	CheckOrigin func(r *http.Request) bool
	Logger      log.Logger
}

func (c *HandlerConfig) defaults() error {
	if c.Manager == nil {
		return fmt.Errorf("channel manager is required")
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(r *http.Request) bool { return true }
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "websocket.Handler"})

	return nil
}

// Handler serves task channels to websocket observers.
type Handler struct {
	manager      ChannelManager
	upgrader     gws.Upgrader
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       log.Logger
}

// NewHandler returns a new websocket handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Handler{
		manager:      cfg.Manager,
		upgrader:     gws.Upgrader{CheckOrigin: cfg.CheckOrigin},
		writeTimeout: cfg.WriteTimeout,
		pingInterval: cfg.PingInterval,
		logger:       cfg.Logger,
	}, nil
}

// ServeTask upgrades the request and attaches the connection to the task channel until the
// task channel or the connection is closed.
func (h *Handler) ServeTask(w http.ResponseWriter, r *http.Request, taskID string) {
	logger := h.logger.WithValues(log.Kv{"task-id": taskID})

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warningf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sink := &connSink{conn: conn, writeTimeout: h.writeTimeout, done: make(chan struct{})}
	detach, err := h.manager.Attach(taskID, sink)
	if err != nil {
		reason := "channel error"
		if errors.Is(err, model.ErrNotFound) {
			reason = "task is not running"
		}
		sink.closeConn(gws.CloseNormalClosure, reason)
		logger.Debugf("could not attach observer: %v", err)
		return
	}
	defer detach()
	logger.Debugf("Observer connected")

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error { return h.readLoop(conn, taskID, logger) })
	g.Go(func() error { return h.keepAlive(ctx, sink) })

	if err := g.Wait(); err != nil && !errors.Is(err, errConnClosed) {
		logger.Warningf("observer connection failed: %v", err)
	}
	logger.Debugf("Observer disconnected")
}

func (h *Handler) readLoop(conn *gws.Conn, taskID string, logger log.Logger) error {
	pongWait := 2 * h.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg channel.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if gws.IsCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway) || errors.Is(err, net.ErrClosed) {
				return errConnClosed
			}
			return fmt.Errorf("could not read message: %w", err)
		}

		if msg.Type != channel.MessageTypeUserInput {
			logger.Debugf("ignoring %q message from observer", msg.Type)
			continue
		}

		if err := h.manager.SubmitInput(taskID, msg.Input); err != nil {
			logger.Warningf("could not submit input: %v", err)
		}
	}
}

func (h *Handler) keepAlive(ctx context.Context, sink *connSink) error {
	t := time.NewTicker(h.pingInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sink.done:
			sink.closeConn(gws.CloseNormalClosure, "task channel closed")
			return errConnClosed
		case <-t.C:
			if err := sink.conn.WriteControl(gws.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return fmt.Errorf("could not ping observer: %w", err)
			}
		}
	}
}

// connSink is a channel sink writing to a websocket connection, the channel manager
// calls Send from a single goroutine.
type connSink struct {
	conn         *gws.Conn
	writeTimeout time.Duration
	done         chan struct{}
	closeOnce    sync.Once
}

func (s *connSink) Send(msg channel.Message) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteJSON(msg)
}

func (s *connSink) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *connSink) closeConn(code int, reason string) {
	_ = s.conn.WriteControl(gws.CloseMessage, gws.FormatCloseMessage(code, reason), time.Now().Add(s.writeTimeout))
	_ = s.conn.Close()
}
