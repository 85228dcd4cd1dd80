package server

import (
	"encoding/json"
	"net/http"

	gin "github.com/gin-gonic/gin"
	zap "go.uber.org/zap"

	types "github.com/agentvault/agentvault-go/types"
)

// ResponseSender writes JSON-RPC response envelopes.
type ResponseSender interface {
	// SendSuccess writes a result envelope
	SendSuccess(c *gin.Context, id any, result any)

	// SendError writes an error envelope. Every error is delivered with
	// HTTP 200 except internal errors (-32603), which use HTTP 500.
	SendError(c *gin.Context, id any, code int, message string, data any)
}

// DefaultResponseSender is the standard ResponseSender implementation.
type DefaultResponseSender struct {
	logger *zap.Logger
}

var _ ResponseSender = (*DefaultResponseSender)(nil)

// NewDefaultResponseSender creates a response sender with the given logger
func NewDefaultResponseSender(logger *zap.Logger) *DefaultResponseSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultResponseSender{logger: logger}
}

func (s *DefaultResponseSender) SendSuccess(c *gin.Context, id any, result any) {
	payload, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("failed to marshal result", zap.Error(err))
		s.SendError(c, id, ErrInternalError, "Internal error", nil)
		return
	}

	c.JSON(http.StatusOK, types.JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  payload,
	})
}

func (s *DefaultResponseSender) SendError(c *gin.Context, id any, code int, message string, data any) {
	status := http.StatusOK
	if code == ErrInternalError {
		status = http.StatusInternalServerError
	}

	c.JSON(status, types.JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &types.JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}
