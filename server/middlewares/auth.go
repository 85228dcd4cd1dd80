package middlewares

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	oidc "github.com/coreos/go-oidc/v3/oidc"
	gin "github.com/gin-gonic/gin"
	zap "go.uber.org/zap"

	config "github.com/agentvault/agentvault-go/server/config"
)

// Authenticator validates inbound request credentials.
type Authenticator interface {
	Middleware() gin.HandlerFunc
}

// NewAuthenticator builds an authenticator from the auth configuration. When
// auth is disabled a pass-through authenticator is returned.
func NewAuthenticator(ctx context.Context, cfg config.AuthConfig, logger *zap.Logger) (Authenticator, error) {
	if !cfg.Enable {
		return &noopAuthenticator{}, nil
	}

	a := &defaultAuthenticator{
		apiKeys: make(map[string]struct{}, len(cfg.APIKeys)),
		logger:  logger,
	}
	for _, key := range cfg.APIKeys {
		if key != "" {
			a.apiKeys[key] = struct{}{}
		}
	}

	if cfg.IssuerURL != "" {
		provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create oidc provider: %w", err)
		}
		a.verifier = provider.Verifier(&oidc.Config{
			ClientID:          cfg.ClientID,
			SkipClientIDCheck: cfg.ClientID == "",
		})
	}

	if len(a.apiKeys) == 0 && a.verifier == nil {
		return nil, fmt.Errorf("auth is enabled but no api keys or issuer are configured")
	}

	return a, nil
}

type noopAuthenticator struct{}

func (a *noopAuthenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
	}
}

// defaultAuthenticator accepts either a known X-Api-Key value or a bearer
// token validated against the configured OIDC issuer.
type defaultAuthenticator struct {
	apiKeys  map[string]struct{}
	verifier *oidc.IDTokenVerifier
	logger   *zap.Logger
}

func (a *defaultAuthenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey := c.GetHeader("X-Api-Key"); apiKey != "" {
			if _, ok := a.apiKeys[apiKey]; ok {
				c.Next()
				return
			}
			a.logger.Warn("rejected request with unknown api key", zap.String("client_ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}

		authHeader := c.GetHeader("Authorization")
		if a.verifier != nil && strings.HasPrefix(authHeader, "Bearer ") {
			token := strings.TrimPrefix(authHeader, "Bearer ")
			if _, err := a.verifier.Verify(c.Request.Context(), token); err != nil {
				a.logger.Warn("rejected request with invalid bearer token", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bearer token"})
				return
			}
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
	}
}
