package client_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"

	client "github.com/agentvault/agentvault-go/client"
	keys "github.com/agentvault/agentvault-go/keys"
	types "github.com/agentvault/agentvault-go/types"
)

func testCard(url string, schemes ...types.AgentAuthScheme) *types.AgentCard {
	if len(schemes) == 0 {
		schemes = []types.AgentAuthScheme{{Scheme: types.AuthSchemeNone}}
	}
	return &types.AgentCard{
		SchemaVersion:   "1.0",
		HumanReadableID: "example-org/echo-agent",
		AgentVersion:    "0.1.0",
		Name:            "Echo Agent",
		Description:     "test agent",
		URL:             url,
		Provider:        types.AgentProvider{Name: "Example Org"},
		Capabilities:    types.AgentCapabilities{A2AVersion: "1.0"},
		AuthSchemes:     schemes,
	}
}

func emptyKeyStore() *keys.Store {
	return keys.NewStore(keys.StoreConfig{DisableEnv: true})
}

func rpcSuccess(t *testing.T, w http.ResponseWriter, id any, result any) {
	t.Helper()
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	_ = json.NewEncoder(w).Encode(types.JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: raw})
}

func decodeRequest(t *testing.T, r *http.Request) types.JSONRPCRequest {
	t.Helper()
	var req types.JSONRPCRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func TestSession_InitiateTask(t *testing.T) {
	var gotParams types.TaskSendParams
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		assert.Equal(t, types.MethodTaskSend, req.Method)
		require.NoError(t, json.Unmarshal(req.Params, &gotParams))
		rpcSuccess(t, w, req.ID, types.TaskSendResult{ID: "task-123"})
	}))
	defer server.Close()

	session := client.NewSession(emptyKeyStore(), &client.Config{HTTPClient: server.Client()})

	message := types.Message{Role: types.RoleUser, Parts: []types.Part{types.NewTextPart("hi")}}
	taskID, err := session.InitiateTask(context.Background(), testCard(server.URL), message, &client.InitiateOptions{
		MCPContext: types.Struct{"session": "s1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "task-123", taskID)

	assert.Nil(t, gotParams.ID)
	require.Contains(t, gotParams.Message.Metadata, types.MetadataKeyMCPContext)
	// The caller's message must not have been mutated.
	assert.NotContains(t, message.Metadata, types.MetadataKeyMCPContext)
}

func TestSession_APIKeyHeader(t *testing.T) {
	t.Setenv("AGENTVAULT_KEY_ECHO_SVC", "abc")

	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Api-Key")
		req := decodeRequest(t, r)
		rpcSuccess(t, w, req.ID, types.TaskSendResult{ID: "task-1"})
	}))
	defer server.Close()

	store := keys.NewStore(keys.StoreConfig{})
	session := client.NewSession(store, &client.Config{HTTPClient: server.Client()})

	serviceID := "echo_svc"
	card := testCard(server.URL, types.AgentAuthScheme{
		Scheme:            types.AuthSchemeAPIKey,
		ServiceIdentifier: &serviceID,
	})

	message := types.Message{Role: types.RoleUser, Parts: []types.Part{types.NewTextPart("hi")}}
	_, err := session.InitiateTask(context.Background(), card, message, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", gotHeader)
}

func TestSession_APIKeyMissing(t *testing.T) {
	session := client.NewSession(emptyKeyStore(), nil)

	serviceID := "unknown-svc"
	card := testCard("https://agent.example.com/a2a", types.AgentAuthScheme{
		Scheme:            types.AuthSchemeAPIKey,
		ServiceIdentifier: &serviceID,
	})

	message := types.Message{Role: types.RoleUser, Parts: []types.Part{types.NewTextPart("hi")}}
	_, err := session.InitiateTask(context.Background(), card, message, nil)

	var authErr *client.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "apiKey", authErr.Scheme)
}

func TestSession_OAuth2Flow(t *testing.T) {
	t.Setenv("AGENTVAULT_OAUTH_OAUTH_SVC_CLIENT_ID", "cid")
	t.Setenv("AGENTVAULT_OAUTH_OAUTH_SVC_CLIENT_SECRET", "cs")

	tokenRequests := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenRequests++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, "cid", r.Form.Get("client_id"))
		assert.Equal(t, "cs", r.Form.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	})

	var gotAuth []string
	mux.HandleFunc("/a2a", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))
		req := decodeRequest(t, r)
		rpcSuccess(t, w, req.ID, types.TaskSendResult{ID: "task-1"})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	store := keys.NewStore(keys.StoreConfig{})
	session := client.NewSession(store, &client.Config{HTTPClient: server.Client()})

	tokenURL := server.URL + "/token"
	serviceID := "oauth-svc"
	card := testCard(server.URL+"/a2a", types.AgentAuthScheme{
		Scheme:            types.AuthSchemeOAuth2,
		TokenURL:          &tokenURL,
		ServiceIdentifier: &serviceID,
	})

	message := types.Message{Role: types.RoleUser, Parts: []types.Part{types.NewTextPart("hi")}}
	_, err := session.InitiateTask(context.Background(), card, message, nil)
	require.NoError(t, err)

	// A second call reuses the cached token.
	err = session.SendMessage(context.Background(), card, "task-1", message)
	require.NoError(t, err)

	assert.Equal(t, 1, tokenRequests)
	require.Len(t, gotAuth, 2)
	assert.Equal(t, "Bearer tok", gotAuth[0])
	assert.Equal(t, "Bearer tok", gotAuth[1])
}

func TestSession_RemoteAgentError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		_ = json.NewEncoder(w).Encode(types.JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &types.JSONRPCError{Code: -32000, Message: "Agent processing error: quota exceeded"},
		})
	}))
	defer server.Close()

	session := client.NewSession(emptyKeyStore(), &client.Config{HTTPClient: server.Client()})

	message := types.Message{Role: types.RoleUser, Parts: []types.Part{types.NewTextPart("hi")}}
	_, err := session.InitiateTask(context.Background(), testCard(server.URL), message, nil)

	var remoteErr *client.RemoteAgentError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, -32000, remoteErr.Code)
	assert.Contains(t, remoteErr.Message, "quota exceeded")
}

func TestSession_RetriesTransportFailures(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		req := decodeRequest(t, r)
		rpcSuccess(t, w, req.ID, types.TaskSendResult{ID: "task-1"})
	}))
	defer server.Close()

	session := client.NewSession(emptyKeyStore(), &client.Config{
		HTTPClient: server.Client(),
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})

	message := types.Message{Role: types.RoleUser, Parts: []types.Part{types.NewTextPart("hi")}}
	taskID, err := session.InitiateTask(context.Background(), testCard(server.URL), message, nil)
	require.NoError(t, err)
	assert.Equal(t, "task-1", taskID)
	assert.Equal(t, 3, attempts)
}

func TestSession_PersistentUnauthorized(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	session := client.NewSession(emptyKeyStore(), &client.Config{
		HTTPClient: server.Client(),
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})

	message := types.Message{Role: types.RoleUser, Parts: []types.Part{types.NewTextPart("hi")}}
	_, err := session.InitiateTask(context.Background(), testCard(server.URL), message, nil)

	var authErr *client.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	// One credential refresh, then a hard stop; no transport retries burned.
	assert.Equal(t, 2, attempts)
}

func TestSession_TerminateTaskAlreadyFinished(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		msg := "task is already COMPLETED"
		rpcSuccess(t, w, req.ID, types.TaskCancelResult{Success: false, Message: &msg})
	}))
	defer server.Close()

	session := client.NewSession(emptyKeyStore(), &client.Config{HTTPClient: server.Client()})

	success, err := session.TerminateTask(context.Background(), testCard(server.URL), "task-1")
	require.NoError(t, err)
	assert.False(t, success)
}

func TestSession_GetHealth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session := client.NewSession(emptyKeyStore(), &client.Config{HTTPClient: server.Client()})

	health, err := session.GetHealth(context.Background(), testCard(server.URL+"/a2a"))
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
}

func TestSession_ReceiveMessages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		assert.Equal(t, types.MethodTaskSendSubscribe, req.Method)

		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)

		frames := []string{
			": keepalive\n\n",
			"event: task_status\ndata: {\"taskId\":\"T1\",\"timestamp\":\"2025-01-01T00:00:00Z\",\"state\":\"WORKING\"}\n\n",
			"event: task_message\ndata: {\"taskId\":\"T1\",\"timestamp\":\"2025-01-01T00:00:01Z\",\"message\":{\"role\":\"assistant\",\"parts\":[{\"type\":\"text\",\"content\":\"Echo: hi\"}]}}\n\n",
			"event: task_status\ndata: {\"taskId\":\"T1\",\"timestamp\":\"2025-01-01T00:00:02Z\",\"state\":\"COMPLETED\"}\n\n",
		}
		for _, frame := range frames {
			fmt.Fprint(w, frame)
			flusher.Flush()
		}
	}))
	defer server.Close()

	session := client.NewSession(emptyKeyStore(), &client.Config{
		HTTPClient:      server.Client(),
		IdleReadTimeout: 5 * time.Second,
	})

	events := make(chan types.Event, 8)
	err := session.ReceiveMessages(context.Background(), testCard(server.URL), "T1", events)
	require.NoError(t, err)
	close(events)

	var received []types.Event
	for ev := range events {
		received = append(received, ev)
	}
	require.Len(t, received, 3)

	status, ok := received[0].(types.TaskStatusUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, types.TaskStateWorking, status.State)

	messageEvent, ok := received[1].(types.TaskMessageEvent)
	require.True(t, ok)
	assert.Equal(t, "Echo: hi", messageEvent.Message.Parts[0].Content)

	status, ok = received[2].(types.TaskStatusUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, types.TaskStateCompleted, status.State)
}

func TestSession_ReceiveMessagesCompactFraming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		// No space after the field colon; SSE allows both forms.
		fmt.Fprint(w, "event:task_status\ndata:{\"taskId\":\"T1\",\"timestamp\":\"2025-01-01T00:00:00Z\",\"state\":\"COMPLETED\"}\n\n")
	}))
	defer server.Close()

	session := client.NewSession(emptyKeyStore(), &client.Config{HTTPClient: server.Client()})

	events := make(chan types.Event, 1)
	err := session.ReceiveMessages(context.Background(), testCard(server.URL), "T1", events)
	require.NoError(t, err)

	status, ok := (<-events).(types.TaskStatusUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, types.TaskStateCompleted, status.State)
}

func TestSession_ReceiveMessagesStreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: error\ndata: {\"error\":\"internal\",\"message\":\"backend unavailable\"}\n\n")
	}))
	defer server.Close()

	session := client.NewSession(emptyKeyStore(), &client.Config{HTTPClient: server.Client()})

	events := make(chan types.Event, 1)
	err := session.ReceiveMessages(context.Background(), testCard(server.URL), "T1", events)

	var streamErr *client.StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "internal", streamErr.Code)
}

func TestSession_ReceiveMessagesSubscribeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &types.JSONRPCError{Code: -32000, Message: "Agent processing error: task not found: T9"},
		})
	}))
	defer server.Close()

	session := client.NewSession(emptyKeyStore(), &client.Config{HTTPClient: server.Client()})

	events := make(chan types.Event, 1)
	err := session.ReceiveMessages(context.Background(), testCard(server.URL), "T9", events)

	var remoteErr *client.RemoteAgentError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, -32000, remoteErr.Code)
}
