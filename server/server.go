package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	gin "github.com/gin-gonic/gin"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
	zap "go.uber.org/zap"

	cardpkg "github.com/agentvault/agentvault-go/card"
	config "github.com/agentvault/agentvault-go/server/config"
	middlewares "github.com/agentvault/agentvault-go/server/middlewares"
	otelpkg "github.com/agentvault/agentvault-go/server/otel"
	types "github.com/agentvault/agentvault-go/types"
)

// A2AServer hosts an agent behind the A2A JSON-RPC endpoint.
type A2AServer interface {
	// Start runs the HTTP listener until the context is canceled or Stop is
	// called
	Start(ctx context.Context) error

	// Stop gracefully shuts the server down
	Stop(ctx context.Context) error

	// RegisterMethod adds an extension JSON-RPC method beside the core four
	RegisterMethod(name string, handler MethodHandler) error

	// SetAgentCard sets the card document served at the card endpoints
	SetAgentCard(card types.AgentCard)

	// TaskStore exposes the task store for agent implementations
	TaskStore() *TaskStore
}

// A2AServerImpl is the default A2AServer implementation.
type A2AServerImpl struct {
	cfg       *config.Config
	logger    *zap.Logger
	agent     Agent
	store     *TaskStore
	protocol  *ProtocolHandler
	sender    ResponseSender
	registry  *methodRegistry
	telemetry otelpkg.Telemetry

	router        *gin.Engine
	httpServer    *http.Server
	metricsServer *http.Server
	cleanupStop   chan struct{}

	agentCard *types.AgentCard
}

var _ A2AServer = (*A2AServerImpl)(nil)

// NewA2AServer assembles a server from explicit parts. A nil agent defaults
// to the echo agent; a nil telemetry disables metrics recording.
func NewA2AServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, agent Agent, telemetry otelpkg.Telemetry) (*A2AServerImpl, error) {
	if cfg == nil {
		loaded, err := config.NewWithDefaults(ctx, nil)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if agent == nil {
		agent = NewEchoAgent()
	}

	repo := NewTaskRepository(ctx, cfg.StorageConfig, logger)
	store := NewTaskStore(repo, cfg.StreamingConfig.ListenerQueueSize, logger)

	artifactStorage, err := NewArtifactStorage(cfg.ArtifactsConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up artifact storage: %w", err)
	}
	if artifactStorage != nil {
		store.SetArtifactOffloader(NewArtifactOffloader(artifactStorage, cfg.ArtifactsConfig.InlineThreshold, logger))
	}

	if telemetry != nil {
		store.SetStateChangeHook(func(state types.TaskState) {
			telemetry.RecordTaskStateChange(context.Background(), state.String())
		})
	}

	webhooks := NewWebhookNotifier(nil, logger)

	s := &A2AServerImpl{
		cfg:       cfg,
		logger:    logger,
		agent:     agent,
		store:     store,
		protocol:  NewProtocolHandler(store, agent, webhooks, cfg.StreamingConfig, logger),
		sender:    NewDefaultResponseSender(logger),
		registry:  newMethodRegistry(),
		telemetry: telemetry,
	}

	if cfg.AgentCardFilePath != "" {
		resolver := cardpkg.NewResolver(cardpkg.ResolverConfig{Logger: logger})
		agentCard, err := resolver.FromFile(cfg.AgentCardFilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load agent card: %w", err)
		}
		s.agentCard = agentCard
	}

	if err := s.setupRouter(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewDefaultA2AServer builds a server entirely from the environment: config
// from AGENTVAULT_ variables, a zap logger, and telemetry when enabled.
func NewDefaultA2AServer(ctx context.Context, agent Agent) (*A2AServerImpl, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	var logger *zap.Logger
	if cfg.Debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	var telemetry otelpkg.Telemetry
	if cfg.TelemetryConfig.Enable {
		if telemetry, err = otelpkg.NewTelemetry(logger); err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}

	return NewA2AServer(ctx, cfg, logger, agent, telemetry)
}

func (s *A2AServerImpl) setupRouter(ctx context.Context) error {
	if s.cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middlewares.Logging(s.logger, s.cfg.ServerConfig.DisableHealthcheckLog))

	router.GET("/health", s.handleHealth)
	router.GET(cardpkg.WellKnownPath, s.handleAgentCard)
	router.GET("/.well-known"+cardpkg.WellKnownPath, s.handleAgentCard)

	authenticator, err := middlewares.NewAuthenticator(ctx, s.cfg.AuthConfig, s.logger)
	if err != nil {
		return err
	}
	router.POST("/a2a", authenticator.Middleware(), s.handleA2ARequest)

	s.router = router
	return nil
}

// Handler exposes the HTTP handler, mainly for httptest.
func (s *A2AServerImpl) Handler() http.Handler {
	return s.router
}

func (s *A2AServerImpl) RegisterMethod(name string, handler MethodHandler) error {
	return s.registry.register(name, handler)
}

func (s *A2AServerImpl) SetAgentCard(card types.AgentCard) {
	s.agentCard = &card
}

func (s *A2AServerImpl) TaskStore() *TaskStore {
	return s.store
}

func (s *A2AServerImpl) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": types.HealthStatusHealthy})
}

func (s *A2AServerImpl) handleAgentCard(c *gin.Context) {
	if s.agentCard == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no agent card configured"})
		return
	}
	c.JSON(http.StatusOK, s.agentCard)
}

// rpcEnvelope mirrors JSONRPCRequest but keeps ID presence information.
type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// handleA2ARequest validates the JSON-RPC envelope and dispatches the
// method. Envelope violations answer with id null per JSON-RPC 2.0.
func (s *A2AServerImpl) handleA2ARequest(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.sender.SendError(c, nil, ErrInvalidRequest, "Invalid Request", nil)
		return
	}

	var envelope rpcEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		s.sender.SendError(c, nil, ErrParseError, "Parse error", nil)
		return
	}

	if envelope.JSONRPC != "2.0" || envelope.Method == "" {
		s.sender.SendError(c, nil, ErrInvalidRequest, "Invalid Request", nil)
		return
	}

	id, idErr := decodeRequestID(envelope.ID)
	if idErr != nil {
		s.sender.SendError(c, nil, ErrInvalidRequest, "Invalid Request", nil)
		return
	}

	start := time.Now()
	errorCode := s.dispatch(c, id, envelope)
	if s.telemetry != nil {
		s.telemetry.RecordRequest(c.Request.Context(), envelope.Method, errorCode, time.Since(start))
	}
}

// decodeRequestID accepts string, number, or null IDs. A missing id is an
// invalid request; notifications are not part of the protocol.
func decodeRequestID(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("request id is required")
	}

	var id any
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, err
	}
	switch id.(type) {
	case string, float64, nil:
		return id, nil
	default:
		return nil, fmt.Errorf("request id must be a string, number, or null")
	}
}

// dispatch routes one validated request and returns the JSON-RPC error code
// it answered with, or zero on success.
func (s *A2AServerImpl) dispatch(c *gin.Context, id any, envelope rpcEnvelope) int {
	ctx := c.Request.Context()

	switch envelope.Method {
	case types.MethodTaskSend:
		result, err := s.protocol.HandleTaskSend(ctx, envelope.Params)
		return s.respond(c, id, result, err)
	case types.MethodTaskGet:
		result, err := s.protocol.HandleTaskGet(ctx, envelope.Params)
		return s.respond(c, id, result, err)
	case types.MethodTaskCancel:
		result, err := s.protocol.HandleTaskCancel(ctx, envelope.Params)
		return s.respond(c, id, result, err)
	case types.MethodTaskSendSubscribe:
		return s.dispatchSubscribe(c, id, envelope.Params)
	}

	if handler, ok := s.registry.lookup(envelope.Method); ok {
		result, err := handler.Handle(ctx, envelope.Params)
		return s.respond(c, id, result, err)
	}

	s.sender.SendError(c, id, ErrMethodNotFound, "Method not found", nil)
	return ErrMethodNotFound
}

func (s *A2AServerImpl) dispatchSubscribe(c *gin.Context, id any, params json.RawMessage) int {
	if s.telemetry != nil {
		s.telemetry.RecordActiveStreams(c.Request.Context(), 1)
		defer s.telemetry.RecordActiveStreams(c.Request.Context(), -1)
	}

	if err := s.protocol.HandleTaskSendSubscribe(c, params); err != nil {
		code, message, data := errorEnvelope(err)
		s.sender.SendError(c, id, code, message, data)
		return code
	}
	return 0
}

// respond writes the result or maps the error onto the protocol taxonomy.
func (s *A2AServerImpl) respond(c *gin.Context, id any, result any, err error) int {
	if err == nil {
		s.sender.SendSuccess(c, id, result)
		return 0
	}

	code, message, data := errorEnvelope(err)
	if code == ErrInternalError {
		s.logger.Error("request failed with internal error", zap.Error(err))
	}
	s.sender.SendError(c, id, code, message, data)
	return code
}

// errorEnvelope maps handler errors to JSON-RPC code, message, and data.
func errorEnvelope(err error) (int, string, any) {
	var paramsErr *ParamsError
	if errors.As(err, &paramsErr) {
		return ErrInvalidParams, fmt.Sprintf("Invalid params: %s", paramsErr.Message), nil
	}

	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return ErrServerError, "Agent processing error: " + agentErr.Message, agentErr.Data
	}

	return ErrInternalError, "Internal error", nil
}

// Start runs the A2A listener, the metrics listener when telemetry is
// enabled, and the task retention sweeper. It blocks until the listener
// stops.
func (s *A2AServerImpl) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.ServerConfig.Host, s.cfg.ServerConfig.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: s.cfg.ServerConfig.ReadTimeout,
		IdleTimeout: s.cfg.ServerConfig.IdleTimeout,
	}

	if s.telemetry != nil {
		s.startMetricsServer()
	}
	if s.cfg.TaskRetentionConfig.Enable {
		s.startRetentionSweeper()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Stop(shutdownCtx); err != nil {
			s.logger.Warn("shutdown failed", zap.Error(err))
		}
	}()

	s.logger.Info("a2a server listening", zap.String("addr", addr))

	var err error
	if s.cfg.ServerConfig.TLSConfig.Enable {
		err = s.httpServer.ListenAndServeTLS(s.cfg.ServerConfig.TLSConfig.CertPath, s.cfg.ServerConfig.TLSConfig.KeyPath)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *A2AServerImpl) startMetricsServer() {
	addr := net.JoinHostPort(s.cfg.TelemetryConfig.Metrics.Host, s.cfg.TelemetryConfig.Metrics.Port)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.telemetry.Registry(), promhttp.HandlerOpts{}))
	s.metricsServer = &http.Server{Addr: addr, Handler: mux}

	go func() {
		s.logger.Info("metrics server listening", zap.String("addr", addr))
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

func (s *A2AServerImpl) startRetentionSweeper() {
	s.cleanupStop = make(chan struct{})
	interval := s.cfg.TaskRetentionConfig.SweepInterval
	maxAge := s.cfg.TaskRetentionConfig.MaxAge

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.cleanupStop:
				return
			case <-ticker.C:
				removed, err := s.store.CleanupTerminal(context.Background(), maxAge)
				if err != nil {
					s.logger.Warn("task retention sweep failed", zap.Error(err))
					continue
				}
				if removed > 0 {
					s.logger.Info("cleaned up finished tasks", zap.Int("removed", removed))
				}
			}
		}
	}()
}

// Stop gracefully shuts down the listeners and releases storage.
func (s *A2AServerImpl) Stop(ctx context.Context) error {
	if s.cleanupStop != nil {
		close(s.cleanupStop)
		s.cleanupStop = nil
	}

	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		s.httpServer = nil
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		s.metricsServer = nil
	}
	if s.telemetry != nil {
		if err := s.telemetry.ShutDown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.store.repo.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	s.logger.Info("a2a server stopped")
	return firstErr
}
