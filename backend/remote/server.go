package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"golang.org/x/sync/errgroup"

	"github.com/Nanguage/executor-engine/job"
)

// Server hosts a worker pool reachable over WebSocket. Clients
// authenticate, then submit named tasks resolved against the server's
// callable registry and executed on a bounded goroutine group.
type Server struct {
	registry     *job.Registry
	auth         Authenticator
	defaultCodec Codec
	concurrency  int
	logger       *slog.Logger

	httpServer *http.Server
	listener   net.Listener

	tasks *errgroup.Group

	mu     sync.Mutex
	active map[string]context.CancelFunc // job ID → cancel
	conns  sync.WaitGroup
	closed bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAuth sets the authenticator. Default accepts everything.
func WithAuth(a Authenticator) ServerOption {
	return func(s *Server) { s.auth = a }
}

// WithServerLogger sets the structured logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithServerCodec sets the default frame codec.
func WithServerCodec(c Codec) ServerOption {
	return func(s *Server) { s.defaultCodec = c }
}

// WithWorkers sets the number of tasks executed concurrently.
func WithWorkers(n int) ServerOption {
	return func(s *Server) { s.concurrency = n }
}

// NewServer creates a worker-pool server resolving tasks against the
// given registry.
func NewServer(registry *job.Registry, opts ...ServerOption) *Server {
	s := &Server{
		registry:     registry,
		defaultCodec: &JSONCodec{},
		concurrency:  10,
		logger:       slog.Default(),
		active:       make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.auth == nil {
		s.auth = &NoopAuthenticator{}
	}
	s.tasks = &errgroup.Group{}
	s.tasks.SetLimit(s.concurrency)
	return s
}

// Start listens on addr and serves until Shutdown. It returns once the
// listener is bound; use Addr for the bound address when addr had port 0.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("remote: listen %s: %w", addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           http.HandlerFunc(s.handleUpgrade),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("remote worker pool listening", slog.String("addr", ln.Addr().String()))

	go func() {
		if serveErr := s.httpServer.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("remote server error", slog.String("error", serveErr.Error()))
		}
	}()
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown cancels running tasks and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for jobID, cancel := range s.active {
		s.logger.Warn("cancelling remote task", slog.String("job_id", jobID))
		cancel()
	}
	s.mu.Unlock()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.conns.Wait()
	_ = s.tasks.Wait() // task errors are reported per-frame
	return err
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	s.conns.Add(1)
	go func() {
		defer s.conns.Done()
		defer conn.Close()
		// The request context dies with the handler; connections
		// outlive it.
		s.serveConn(context.Background(), conn)
	}()
}

// serveConn handles one client connection: auth first, then frames.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	// The auth frame is always JSON, before codec negotiation.
	data, err := wsutil.ReadClientBinary(conn)
	if err != nil {
		return
	}
	var authFrame Frame
	if err := json.Unmarshal(data, &authFrame); err != nil || authFrame.Method != MethodAuth {
		s.writeFrame(conn, &JSONCodec{}, NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "first frame must be auth"))
		return
	}

	var authReq AuthRequest
	if len(authFrame.Data) > 0 {
		if err := json.Unmarshal(authFrame.Data, &authReq); err != nil {
			s.writeFrame(conn, &JSONCodec{}, NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "invalid auth data"))
			return
		}
	}
	token := authReq.Token
	if token == "" {
		token = authFrame.Token
	}

	identity, authErr := s.auth.Authenticate(ctx, token)
	if authErr != nil {
		s.writeFrame(conn, &JSONCodec{}, NewErrorFrame(authFrame.ID, ErrCodeUnauthorized, "authentication failed"))
		return
	}

	codec := s.defaultCodec
	if authReq.Format != "" {
		codec = GetCodec(authReq.Format)
	}
	s.writeFrame(conn, &JSONCodec{}, NewResponseFrame(authFrame.ID, nil))

	s.logger.Info("worker pool client connected",
		slog.String("subject", identity.Subject),
		slog.String("codec", codec.Name()),
	)

	// writeMu serializes frame writes from concurrent task goroutines.
	var writeMu sync.Mutex
	write := func(f *Frame) {
		writeMu.Lock()
		defer writeMu.Unlock()
		s.writeFrame(conn, codec, f)
	}

	for {
		data, readErr := wsutil.ReadClientBinary(conn)
		if readErr != nil {
			return
		}
		frame, decErr := codec.Decode(data)
		if decErr != nil {
			write(NewErrorFrame("", ErrCodeBadRequest, "undecodable frame"))
			continue
		}
		s.handleFrame(ctx, frame, write)
	}
}

func (s *Server) handleFrame(ctx context.Context, frame *Frame, write func(*Frame)) {
	switch {
	case frame.Type == FramePing:
		write(&Frame{ID: frame.ID, Type: FramePong, Timestamp: time.Now().UTC()})

	case frame.Method == MethodTaskSubmit:
		s.handleSubmit(ctx, frame, write)

	case frame.Method == MethodTaskCancel:
		s.handleCancel(frame, write)

	default:
		write(NewErrorFrame(frame.ID, ErrCodeBadRequest, fmt.Sprintf("unknown method %q", frame.Method)))
	}
}

func (s *Server) handleSubmit(ctx context.Context, frame *Frame, write func(*Frame)) {
	var payload TaskPayload
	if err := unmarshalPayload(frame.Data, &payload); err != nil {
		write(NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid task payload"))
		return
	}

	fn, ok := s.registry.Get(payload.Name)
	if !ok {
		write(NewErrorFrame(frame.ID, ErrCodeNotFound, fmt.Sprintf("no callable registered for %q", payload.Name)))
		return
	}

	args, err := DecodeArgs(payload.Args)
	if err != nil {
		write(NewErrorFrame(frame.ID, ErrCodeBadRequest, "undecodable task args"))
		return
	}

	var (
		taskCtx context.Context
		cancel  context.CancelFunc
	)
	if payload.TimeoutMS > 0 {
		taskCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), time.Duration(payload.TimeoutMS)*time.Millisecond)
	} else {
		taskCtx, cancel = context.WithCancel(context.WithoutCancel(ctx))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		write(NewErrorFrame(frame.ID, ErrCodeInternal, "server shutting down"))
		return
	}
	s.active[payload.JobID] = cancel
	s.mu.Unlock()

	s.tasks.Go(func() error {
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.active, payload.JobID)
			s.mu.Unlock()
		}()

		result := ResultPayload{JobID: payload.JobID}
		value, runErr := runGuarded(taskCtx, fn, args)
		if taskCtx.Err() != nil && runErr == nil {
			runErr = taskCtx.Err()
		}
		if runErr != nil {
			result.Error = runErr.Error()
		} else if encoded, encErr := EncodeResult(value); encErr != nil {
			result.Error = fmt.Sprintf("unserializable result: %v", encErr)
		} else {
			result.Result = encoded
		}

		data, _ := marshalPayload(result)
		write(NewResponseFrame(frame.ID, data))
		return nil
	})
}

func (s *Server) handleCancel(frame *Frame, write func(*Frame)) {
	var payload CancelPayload
	if err := unmarshalPayload(frame.Data, &payload); err != nil {
		write(NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid cancel payload"))
		return
	}

	s.mu.Lock()
	cancel, ok := s.active[payload.JobID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	write(NewResponseFrame(frame.ID, nil))
}

// runGuarded invokes the callable, converting a panic into an error so
// one task cannot take down the pool.
func runGuarded(ctx context.Context, fn job.Callable, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("remote: task panic: %v", r)
		}
	}()
	return fn(ctx, args...)
}

func (s *Server) writeFrame(conn net.Conn, codec Codec, frame *Frame) {
	data, err := codec.Encode(frame)
	if err != nil {
		s.logger.Error("frame encode error", slog.String("error", err.Error()))
		return
	}
	if err := wsutil.WriteServerBinary(conn, data); err != nil {
		s.logger.Debug("frame write error", slog.String("error", err.Error()))
	}
}
