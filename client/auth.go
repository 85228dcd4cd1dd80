package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	oauth2 "golang.org/x/oauth2"
	clientcredentials "golang.org/x/oauth2/clientcredentials"

	keys "github.com/agentvault/agentvault-go/keys"
	types "github.com/agentvault/agentvault-go/types"
)

// credential is a ready-to-apply request credential.
type credential struct {
	header string
	value  string
}

// authenticator resolves a card's auth scheme against the local credential
// store and produces request credentials. OAuth2 token sources are cached
// per token endpoint and client ID so tokens are reused until they expire.
type authenticator struct {
	keys *keys.Store

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

func newAuthenticator(store *keys.Store) *authenticator {
	return &authenticator{
		keys:    store,
		sources: make(map[string]oauth2.TokenSource),
	}
}

// pickScheme selects the auth scheme to use: the preferred one when the card
// advertises it, otherwise the card's first scheme.
func pickScheme(card *types.AgentCard, preferred types.AuthSchemeType) (types.AgentAuthScheme, error) {
	if len(card.AuthSchemes) == 0 {
		return types.AgentAuthScheme{}, &AuthenticationError{Reason: "agent card advertises no auth schemes"}
	}

	if preferred != "" {
		for _, scheme := range card.AuthSchemes {
			if scheme.Scheme == preferred {
				return scheme, nil
			}
		}
		return types.AgentAuthScheme{}, &AuthenticationError{
			Scheme: string(preferred),
			Reason: "agent card does not advertise the preferred scheme",
		}
	}
	return card.AuthSchemes[0], nil
}

// serviceID returns the scheme's credential lookup key, falling back to the
// card's human-readable ID.
func serviceID(card *types.AgentCard, scheme types.AgentAuthScheme) string {
	if scheme.ServiceIdentifier != nil && *scheme.ServiceIdentifier != "" {
		return *scheme.ServiceIdentifier
	}
	return card.HumanReadableID
}

// resolve produces the credential for the selected scheme, or nil for the
// none scheme.
func (a *authenticator) resolve(ctx context.Context, card *types.AgentCard, preferred types.AuthSchemeType) (*credential, error) {
	scheme, err := pickScheme(card, preferred)
	if err != nil {
		return nil, err
	}

	service := serviceID(card, scheme)

	switch scheme.Scheme {
	case types.AuthSchemeNone:
		return nil, nil

	case types.AuthSchemeAPIKey:
		lookup, err := a.keys.GetKey(service)
		if err != nil {
			return nil, &AuthenticationError{Scheme: "apiKey", Reason: "credential store failure", Err: err}
		}
		if lookup == nil {
			return nil, &AuthenticationError{Scheme: "apiKey", Reason: fmt.Sprintf("no api key configured for service %q", service)}
		}
		return &credential{header: "X-Api-Key", value: lookup.Value}, nil

	case types.AuthSchemeBearer:
		lookup, err := a.keys.GetKey(service)
		if err != nil {
			return nil, &AuthenticationError{Scheme: "bearer", Reason: "credential store failure", Err: err}
		}
		if lookup == nil {
			return nil, &AuthenticationError{Scheme: "bearer", Reason: fmt.Sprintf("no token configured for service %q", service)}
		}
		return &credential{header: "Authorization", value: "Bearer " + lookup.Value}, nil

	case types.AuthSchemeOAuth2:
		return a.resolveOAuth2(ctx, scheme, service)

	default:
		return nil, &AuthenticationError{Scheme: string(scheme.Scheme), Reason: "unsupported auth scheme"}
	}
}

// resolveOAuth2 obtains a bearer token via the client credentials grant.
func (a *authenticator) resolveOAuth2(ctx context.Context, scheme types.AgentAuthScheme, service string) (*credential, error) {
	if scheme.TokenURL == nil || *scheme.TokenURL == "" {
		return nil, &AuthenticationError{Scheme: "oauth2", Reason: "agent card is missing the token url"}
	}

	lookup, err := a.keys.GetOAuthCredentials(service)
	if err != nil {
		return nil, &AuthenticationError{Scheme: "oauth2", Reason: "credential store failure", Err: err}
	}
	if lookup == nil {
		return nil, &AuthenticationError{Scheme: "oauth2", Reason: fmt.Sprintf("no client credentials configured for service %q", service)}
	}

	source := a.tokenSource(ctx, *scheme.TokenURL, lookup.ClientID, lookup.ClientSecret)
	token, err := source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, &AuthenticationError{
				Scheme: "oauth2",
				Reason: fmt.Sprintf("token endpoint rejected the request with status %d", retrieveErr.Response.StatusCode),
				Err:    err,
			}
		}
		return nil, &AuthenticationError{Scheme: "oauth2", Reason: "token request failed", Err: err}
	}

	return &credential{header: "Authorization", value: "Bearer " + token.AccessToken}, nil
}

func (a *authenticator) tokenSource(ctx context.Context, tokenURL, clientID, clientSecret string) oauth2.TokenSource {
	key := tokenURL + "\x00" + clientID

	a.mu.Lock()
	defer a.mu.Unlock()
	if source, ok := a.sources[key]; ok {
		return source
	}

	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	source := cfg.TokenSource(context.WithoutCancel(ctx))
	a.sources[key] = source
	return source
}

// invalidate drops the cached token sources for a card so the next request
// fetches fresh tokens. Used after a 401 from the agent.
func (a *authenticator) invalidate(card *types.AgentCard) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, scheme := range card.AuthSchemes {
		if scheme.TokenURL == nil {
			continue
		}
		prefix := *scheme.TokenURL + "\x00"
		for key := range a.sources {
			if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
				delete(a.sources, key)
			}
		}
	}
}
