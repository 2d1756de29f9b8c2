package clients

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/pulse/internal/domain"
	"go.uber.org/zap"
)

const (
	handshakeTimeout = 10 * time.Second
	readLimit        = 1 << 20
)

// StreamHandler receives everything the push stream produces. Implementations
// must tolerate duplicate and out-of-order delivery; the transport makes no
// exactly-once promises.
type StreamHandler interface {
	// OnEvent is called for every decoded action event, in arrival order.
	OnEvent(event domain.Event)
	// OnLag is called when the server signals it dropped messages before delivery.
	OnLag(dropped int)
	// OnDisconnect is called exactly once per connection when the read loop exits.
	// err is nil after a local Close.
	OnDisconnect(err error)
}

// streamFrame is the wire superset of event and lag frames.
type streamFrame struct {
	Type       string            `json:"type,omitempty"`
	Dropped    int               `json:"dropped,omitempty"`
	ActionID   string            `json:"action_id,omitempty"`
	UpdateType domain.UpdateType `json:"update_type,omitempty"`
	Action     *domain.Action    `json:"action,omitempty"`
}

// StreamClient maintains a single websocket connection to the backend's action
// event stream. It owns no reconnect policy; the tracker decides when to dial
// again after OnDisconnect.
type StreamClient struct {
	url     string
	token   string
	handler StreamHandler
	logger  *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewStreamClient creates a stream client. handler must be non-nil.
func NewStreamClient(url, token string, handler StreamHandler, logger *zap.Logger) *StreamClient {
	return &StreamClient{url: url, token: token, handler: handler, logger: logger}
}

// Dial opens the websocket and starts the read loop. Calling Dial while a
// connection is open replaces it.
func (s *StreamClient) Dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	header := make(map[string][]string)
	if s.token != "" {
		header["Authorization"] = []string{"Bearer " + s.token}
	}

	conn, resp, err := dialer.DialContext(ctx, s.url, header)
	if err != nil {
		if resp != nil {
			return errors.Wrapf(err, "dial %s failed with status %d", s.url, resp.StatusCode)
		}
		return errors.Wrapf(err, "dial %s failed", s.url)
	}
	conn.SetReadLimit(readLimit)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return errors.New("stream client is closed")
	}
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info("action stream connected", zap.String("url", s.url))
	go s.readLoop(conn)
	return nil
}

// Close tears down the current connection and marks the client closed. The read
// loop reports a nil-error disconnect.
func (s *StreamClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

func (s *StreamClient) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			if s.conn == conn {
				s.conn = nil
			}
			s.mu.Unlock()

			if closed {
				s.handler.OnDisconnect(nil)
				return
			}
			s.logger.Warn("action stream read failed", zap.Error(err))
			s.handler.OnDisconnect(err)
			return
		}
		s.dispatch(payload)
	}
}

func (s *StreamClient) dispatch(payload []byte) {
	var frame streamFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		s.logger.Warn("dropping undecodable stream frame", zap.Error(err))
		return
	}

	if frame.Type == "lag" {
		s.logger.Warn("stream lagged, messages dropped", zap.Int("dropped", frame.Dropped))
		s.handler.OnLag(frame.Dropped)
		return
	}

	s.handler.OnEvent(domain.Event{
		ActionID:   frame.ActionID,
		UpdateType: frame.UpdateType,
		Action:     frame.Action,
	})
}
