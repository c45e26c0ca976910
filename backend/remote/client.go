package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	executor "github.com/Nanguage/executor-engine"
	"github.com/Nanguage/executor-engine/backend"
	"github.com/Nanguage/executor-engine/job"
)

// Client is the distributed backend: it ships tasks of kind
// distributed to a remote worker pool over WebSocket. Task callables
// are resolved by name on the server, so arguments must be
// transport-serializable and the server's registry must know the name.
type Client struct {
	url    string
	token  string
	codec  Codec
	logger *slog.Logger

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	closed    bool

	pendingMu sync.Mutex
	pending   map[string]chan *Frame // frame ID → response

	dialTimeout time.Duration
}

var _ backend.Backend = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithToken sets the auth token presented on connect.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithClientCodec sets the frame codec negotiated on connect.
func WithClientCodec(codec Codec) ClientOption {
	return func(c *Client) { c.codec = codec }
}

// WithClientLogger sets the structured logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithDialTimeout bounds the connect handshake.
func WithDialTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.dialTimeout = d }
}

// NewClient creates a distributed backend connecting to url
// (e.g. "ws://pool.internal:9070"). The connection is dialed lazily on
// the first task.
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:         url,
		codec:       &MsgpackCodec{},
		logger:      slog.Default(),
		pending:     make(map[string]chan *Frame),
		dialTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Kind implements backend.Backend.
func (c *Client) Kind() job.Kind { return job.KindDistributed }

// Start implements backend.Backend.
func (c *Client) Start(ctx context.Context, task *backend.Task) (backend.Handle, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, &executor.BackendError{Kind: string(job.KindDistributed), Err: err}
	}

	args, err := EncodeArgs(task.Args)
	if err != nil {
		return nil, &executor.BackendError{
			Kind: string(job.KindDistributed),
			Err:  fmt.Errorf("unserializable args: %w", err),
		}
	}

	payload, err := marshalPayload(TaskPayload{
		JobID:     task.JobID,
		Name:      task.Name,
		Args:      args,
		TimeoutMS: task.Timeout.Milliseconds(),
	})
	if err != nil {
		return nil, &executor.BackendError{Kind: string(job.KindDistributed), Err: err}
	}

	frame := NewRequestFrame(MethodTaskSubmit, payload)
	respCh := make(chan *Frame, 1)
	c.pendingMu.Lock()
	c.pending[frame.ID] = respCh
	c.pendingMu.Unlock()

	if err := c.writeFrame(frame); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, frame.ID)
		c.pendingMu.Unlock()
		return nil, &executor.BackendError{Kind: string(job.KindDistributed), Err: err}
	}

	h := backend.NewRemoteHandle(func() { c.sendCancel(task.JobID) })
	go c.awaitResult(task, h, respCh)
	return h, nil
}

// awaitResult resolves the response frame into the task's completion.
func (c *Client) awaitResult(task *backend.Task, h *backend.RemoteHandle, respCh chan *Frame) {
	frame, ok := <-respCh
	if !ok {
		h.Finish(task, nil, &executor.BackendError{
			Kind: string(job.KindDistributed),
			Err:  errors.New("connection lost"),
		})
		return
	}

	if frame.Type == FrameErr {
		msg := "remote error"
		if frame.Error != nil {
			msg = frame.Error.Message
		}
		h.Finish(task, nil, &executor.BackendError{Kind: string(job.KindDistributed), Err: errors.New(msg)})
		return
	}

	var payload ResultPayload
	if err := unmarshalPayload(frame.Data, &payload); err != nil {
		h.Finish(task, nil, &executor.BackendError{Kind: string(job.KindDistributed), Err: err})
		return
	}
	if payload.Error != "" {
		h.Finish(task, nil, errors.New(payload.Error))
		return
	}

	result, err := DecodeResult(payload.Result)
	if err != nil {
		h.Finish(task, nil, &executor.BackendError{Kind: string(job.KindDistributed), Err: err})
		return
	}
	h.Finish(task, result, nil)
}

// Close implements backend.Backend. Pending tasks fail with a
// connection-lost error.
func (c *Client) Close(context.Context) error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// ensureConnected dials and authenticates on first use.
func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("remote: client closed")
	}
	if c.connected {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	conn, _, _, err := ws.Dial(dialCtx, c.url)
	if err != nil {
		return fmt.Errorf("remote: dial %s: %w", c.url, err)
	}

	// Auth handshake, always JSON.
	authData, err := json.Marshal(AuthRequest{Token: c.token, Format: c.codec.Name()})
	if err != nil {
		conn.Close()
		return err
	}
	authFrame := NewRequestFrame(MethodAuth, authData)
	raw, err := json.Marshal(authFrame)
	if err != nil {
		conn.Close()
		return err
	}
	if err := wsutil.WriteClientBinary(conn, raw); err != nil {
		conn.Close()
		return fmt.Errorf("remote: send auth: %w", err)
	}

	respData, err := wsutil.ReadServerBinary(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("remote: read auth response: %w", err)
	}
	var resp Frame
	if err := json.Unmarshal(respData, &resp); err != nil {
		conn.Close()
		return fmt.Errorf("remote: decode auth response: %w", err)
	}
	if resp.Type == FrameErr {
		conn.Close()
		if resp.Error != nil && resp.Error.Code == ErrCodeUnauthorized {
			return ErrUnauthorized
		}
		return fmt.Errorf("remote: auth rejected")
	}

	c.conn = conn
	c.connected = true
	go c.readLoop(conn)
	return nil
}

// readLoop dispatches response frames to their waiting submitters.
func (c *Client) readLoop(conn net.Conn) {
	for {
		data, err := wsutil.ReadServerBinary(conn)
		if err != nil {
			c.dropConnection(conn)
			return
		}
		frame, decErr := c.codec.Decode(data)
		if decErr != nil {
			c.logger.Warn("undecodable frame from worker pool", slog.String("error", decErr.Error()))
			continue
		}
		if frame.CorrelID == "" {
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[frame.CorrelID]
		if ok {
			delete(c.pending, frame.CorrelID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- frame
		}
	}
}

// dropConnection fails all pending tasks and resets the dial state so a
// later task reconnects.
func (c *Client) dropConnection(conn net.Conn) {
	conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.connected = false
	}
	c.mu.Unlock()

	c.pendingMu.Lock()
	for frameID, ch := range c.pending {
		delete(c.pending, frameID)
		close(ch)
	}
	c.pendingMu.Unlock()
}

func (c *Client) sendCancel(jobID string) {
	payload, err := marshalPayload(CancelPayload{JobID: jobID})
	if err != nil {
		return
	}
	if err := c.writeFrame(NewRequestFrame(MethodTaskCancel, payload)); err != nil {
		c.logger.Debug("cancel frame write failed", slog.String("job_id", jobID))
	}
}

func (c *Client) writeFrame(frame *Frame) error {
	data, err := c.codec.Encode(frame)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("remote: not connected")
	}
	return wsutil.WriteClientBinary(c.conn, data)
}
