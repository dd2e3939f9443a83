// Package speech implements the client side of the Nova Sonic speaking
// assessment: one WebSocket, one initiating message, one result.
package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ieltsgenai/prep/internal/protocol"
)

const (
	// DefaultStreamPath is the speaking-assessment WebSocket endpoint.
	DefaultStreamPath = "/api/nova-sonic/ws"
	// DefaultDeadline is the hard cap on one conversation exchange.
	DefaultDeadline = 30 * time.Second

	writeTimeout = 3 * time.Second
)

// ErrDeadlineExceeded reports that neither complete nor error arrived
// within the session deadline.
var ErrDeadlineExceeded = errors.New("speech session timed out")

// ConversationError carries a server-side rejection from an `error` message.
type ConversationError struct {
	Code    string
	Message string
}

func (e *ConversationError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("speech backend error (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("speech backend error: %s", e.Message)
}

// Config assembles a streaming client against the pinned-region endpoint.
type Config struct {
	WSBaseURL string
	Path      string
	Deadline  time.Duration
	Dialer    *websocket.Dialer
	Header    http.Header
}

type Client struct {
	url      string
	deadline time.Duration
	dialer   *websocket.Dialer
	header   http.Header
}

func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.WSBaseURL)
	if base == "" {
		return nil, errors.New("speech: ws base url is required")
	}
	path := cfg.Path
	if path == "" {
		path = DefaultStreamPath
	}
	deadline := cfg.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 4 * time.Second,
		}
	}
	return &Client{
		url:      strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/"),
		deadline: deadline,
		dialer:   dialer,
		header:   cfg.Header,
	}, nil
}

// StartRequest describes one conversation exchange.
type StartRequest struct {
	AssessmentType string
	QuestionID     string
	AudioBase64    string
	SessionID      string
	// OnAudio receives base64 audio fragments from partial responses for
	// immediate playback. Optional.
	OnAudio func(audioBase64 string)
}

// ConversationResult is the accumulated outcome of one exchange.
type ConversationResult struct {
	ConversationID string
	Transcript     string
	Feedback       json.RawMessage
	// IgnoredMessages counts well-formed frames with unknown type tags
	// that were skipped without affecting session state.
	IgnoredMessages int
}

// conversation accumulates state across frames of one exchange.
type conversation struct {
	req        StartRequest
	transcript strings.Builder
	result     ConversationResult
}

// handleFrame folds one inbound frame into the conversation. done is true
// once a terminal message arrived.
func (c *conversation) handleFrame(data []byte) (done bool, err error) {
	msg, err := protocol.ParseServerMessage(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			// Unrecognized shapes are skipped, not fatal.
			c.result.IgnoredMessages++
			return false, nil
		}
		return true, fmt.Errorf("speech protocol: %w", err)
	}

	switch m := msg.(type) {
	case protocol.PartialResponse:
		c.transcript.WriteString(m.Text)
		if m.ConversationID != "" {
			c.result.ConversationID = m.ConversationID
		}
		if m.AudioBase64 != "" && c.req.OnAudio != nil {
			c.req.OnAudio(m.AudioBase64)
		}
		return false, nil
	case protocol.Complete:
		if m.ConversationID != "" {
			c.result.ConversationID = m.ConversationID
		}
		if m.Text != "" {
			c.transcript.WriteString(m.Text)
		}
		c.result.Transcript = c.transcript.String()
		c.result.Feedback = m.Feedback
		return true, nil
	case protocol.Error:
		return true, &ConversationError{Code: m.Code, Message: m.Message}
	default:
		return false, nil
	}
}

// Start opens the socket, sends the initiating message, and waits for the
// terminal server message. Exactly one result or error is produced, and the
// socket is closed on every exit path.
func (c *Client) Start(ctx context.Context, req StartRequest) (ConversationResult, error) {
	if strings.TrimSpace(req.AssessmentType) == "" {
		return ConversationResult{}, errors.New("speech: assessment type is required")
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		if resp != nil {
			return ConversationResult{}, fmt.Errorf("speech dial failed (%s): %w", resp.Status, err)
		}
		return ConversationResult{}, fmt.Errorf("speech dial failed: %w", err)
	}
	sock := newSocket(conn)
	defer sock.close()

	start := protocol.StartConversation{
		Action:         protocol.TypeStartConversation,
		AssessmentType: req.AssessmentType,
		QuestionID:     req.QuestionID,
		AudioBase64:    req.AudioBase64,
		SessionID:      req.SessionID,
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(start); err != nil {
		return ConversationResult{}, fmt.Errorf("speech start write: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	deadline := time.NewTimer(c.deadline)
	defer deadline.Stop()

	conv := &conversation{req: req}
	for {
		select {
		case <-ctx.Done():
			return ConversationResult{}, ctx.Err()
		case <-deadline.C:
			return ConversationResult{}, ErrDeadlineExceeded
		case readErr := <-sock.errs:
			// Frames queued before the close still count; a terminal
			// message followed by an immediate close is a normal exit.
			for {
				select {
				case data, ok := <-sock.msgs:
					if !ok {
						return ConversationResult{}, fmt.Errorf("speech stream read: %w", readErr)
					}
					done, err := conv.handleFrame(data)
					if err != nil {
						return ConversationResult{}, err
					}
					if done {
						return conv.result, nil
					}
				default:
					return ConversationResult{}, fmt.Errorf("speech stream read: %w", readErr)
				}
			}
		case data, ok := <-sock.msgs:
			if !ok {
				return ConversationResult{}, errors.New("speech stream closed before completion")
			}
			done, err := conv.handleFrame(data)
			if err != nil {
				return ConversationResult{}, err
			}
			if done {
				return conv.result, nil
			}
		}
	}
}

// socket pumps reads through a channel so the session loop can select
// across messages, the deadline, and caller cancellation.
type socket struct {
	conn      *websocket.Conn
	msgs      chan []byte
	errs      chan error
	closeOnce sync.Once
}

func newSocket(conn *websocket.Conn) *socket {
	s := &socket{
		conn: conn,
		msgs: make(chan []byte, 64),
		errs: make(chan error, 1),
	}
	go func() {
		defer close(s.msgs)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				s.errs <- err
				return
			}
			s.msgs <- data
		}
	}()
	return s
}

func (s *socket) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}
