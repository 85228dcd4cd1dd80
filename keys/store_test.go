package keys_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"

	keys "github.com/agentvault/agentvault-go/keys"
)

func TestStore_EnvKeyLookup(t *testing.T) {
	t.Setenv("AGENTVAULT_KEY_ECHO_SVC", "env-secret")

	store := keys.NewStore(keys.StoreConfig{})

	// The variable suffix is the service identifier, upper-cased verbatim.
	lookup, err := store.GetKey("echo_svc")
	require.NoError(t, err)
	require.NotNil(t, lookup)
	assert.Equal(t, "env-secret", lookup.Value)
	assert.Equal(t, keys.SourceEnv, lookup.Source)

	// No hyphen rewriting happens on the way back.
	lookup, err = store.GetKey("echo-svc")
	require.NoError(t, err)
	assert.Nil(t, lookup)
}

func TestStore_UnknownServiceIsNotAnError(t *testing.T) {
	store := keys.NewStore(keys.StoreConfig{DisableEnv: true})

	lookup, err := store.GetKey("never-configured")
	assert.NoError(t, err)
	assert.Nil(t, lookup)

	oauth, err := store.GetOAuthCredentials("never-configured")
	assert.NoError(t, err)
	assert.Nil(t, oauth)
}

func TestStore_FileBeatsEnv(t *testing.T) {
	t.Setenv("AGENTVAULT_KEY_ECHO_SVC", "env-secret")

	dir := t.TempDir()
	path := filepath.Join(dir, "keys.env")
	require.NoError(t, os.WriteFile(path, []byte("echo_svc=file-secret\n"), 0o600))

	store := keys.NewStore(keys.StoreConfig{KeyFilePath: path})

	lookup, err := store.GetKey("echo_svc")
	require.NoError(t, err)
	require.NotNil(t, lookup)
	assert.Equal(t, "file-secret", lookup.Value)
	assert.Equal(t, keys.SourceFile, lookup.Source)
}

func TestStore_EnvFileUsesRawServiceKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.env")
	content := "foo=abc\nMixedCase=mk\nempty=\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	store := keys.NewStore(keys.StoreConfig{KeyFilePath: path, DisableEnv: true})

	lookup, err := store.GetKey("foo")
	require.NoError(t, err)
	require.NotNil(t, lookup)
	assert.Equal(t, "abc", lookup.Value)
	assert.Equal(t, keys.SourceFile, lookup.Source)

	// Keys are lower-cased after load.
	lookup, err = store.GetKey("mixedcase")
	require.NoError(t, err)
	require.NotNil(t, lookup)
	assert.Equal(t, "mk", lookup.Value)

	lookup, err = store.GetKey("empty")
	require.NoError(t, err)
	assert.Nil(t, lookup)
}

func TestStore_JSONKeyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.json")
	content := `{
		"plain-svc": "raw-key",
		"oauth-svc": {
			"apiKey": "structured-key",
			"oauth": {"clientId": "cid", "clientSecret": "cs"}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	store := keys.NewStore(keys.StoreConfig{KeyFilePath: path, DisableEnv: true})

	lookup, err := store.GetKey("plain-svc")
	require.NoError(t, err)
	require.NotNil(t, lookup)
	assert.Equal(t, "raw-key", lookup.Value)

	oauth, err := store.GetOAuthCredentials("oauth-svc")
	require.NoError(t, err)
	require.NotNil(t, oauth)
	assert.Equal(t, "cid", oauth.ClientID)
	assert.Equal(t, "cs", oauth.ClientSecret)
	assert.Equal(t, keys.SourceFile, oauth.Source)
}

func TestStore_EnvOAuthPair(t *testing.T) {
	t.Setenv("AGENTVAULT_OAUTH_ECHO_SVC_CLIENT_ID", "cid")
	t.Setenv("AGENTVAULT_OAUTH_ECHO_SVC_CLIENT_SECRET", "cs")

	store := keys.NewStore(keys.StoreConfig{})

	oauth, err := store.GetOAuthCredentials("echo_svc")
	require.NoError(t, err)
	require.NotNil(t, oauth)
	assert.Equal(t, "cid", oauth.ClientID)
	assert.Equal(t, "cs", oauth.ClientSecret)
	assert.Equal(t, keys.SourceEnv, oauth.Source)
}

func TestStore_IncompleteEnvOAuthPairIgnored(t *testing.T) {
	t.Setenv("AGENTVAULT_OAUTH_HALF_SVC_CLIENT_ID", "cid-only")

	store := keys.NewStore(keys.StoreConfig{})

	oauth, err := store.GetOAuthCredentials("half_svc")
	assert.NoError(t, err)
	assert.Nil(t, oauth)
}

func TestStore_KeyringFallbackAndCache(t *testing.T) {
	backend := keys.NewMemoryBackend()
	require.NoError(t, backend.Set("agentvault:ring-svc", "ring-svc", "ring-secret"))

	store := keys.NewStore(keys.StoreConfig{
		DisableEnv: true,
		UseKeyring: true,
		Backend:    backend,
	})

	lookup, err := store.GetKey("ring-svc")
	require.NoError(t, err)
	require.NotNil(t, lookup)
	assert.Equal(t, "ring-secret", lookup.Value)
	assert.Equal(t, keys.SourceKeyring, lookup.Source)

	// Cached entry survives the backend losing the secret.
	require.NoError(t, backend.Set("agentvault:ring-svc", "ring-svc", ""))
	lookup, err = store.GetKey("ring-svc")
	require.NoError(t, err)
	require.NotNil(t, lookup)
	assert.Equal(t, "ring-secret", lookup.Value)
}

func TestStore_SetKeyRoundTrip(t *testing.T) {
	backend := keys.NewMemoryBackend()
	store := keys.NewStore(keys.StoreConfig{
		DisableEnv: true,
		UseKeyring: true,
		Backend:    backend,
	})

	require.NoError(t, store.SetKey("new-svc", "fresh-secret"))

	stored, err := backend.Get("agentvault:new-svc", "new-svc")
	require.NoError(t, err)
	assert.Equal(t, "fresh-secret", stored)

	lookup, err := store.GetKey("new-svc")
	require.NoError(t, err)
	require.NotNil(t, lookup)
	assert.Equal(t, "fresh-secret", lookup.Value)
}

func TestStore_SetOAuthCredentials(t *testing.T) {
	backend := keys.NewMemoryBackend()
	store := keys.NewStore(keys.StoreConfig{
		DisableEnv: true,
		UseKeyring: true,
		Backend:    backend,
	})

	require.NoError(t, store.SetOAuthCredentials("oauth-svc", "cid", "cs"))

	clientID, err := backend.Get("agentvault:oauth:oauth-svc", "clientId")
	require.NoError(t, err)
	assert.Equal(t, "cid", clientID)

	clientSecret, err := backend.Get("agentvault:oauth:oauth-svc", "clientSecret")
	require.NoError(t, err)
	assert.Equal(t, "cs", clientSecret)

	oauth, err := store.GetOAuthCredentials("oauth-svc")
	require.NoError(t, err)
	require.NotNil(t, oauth)
	assert.Equal(t, keys.SourceKeyring, oauth.Source)
}

func TestStore_SetKeyWithoutKeyring(t *testing.T) {
	store := keys.NewStore(keys.StoreConfig{DisableEnv: true})

	err := store.SetKey("svc", "value")
	require.Error(t, err)

	var mgmtErr *keys.KeyManagementError
	assert.True(t, errors.As(err, &mgmtErr))
}

func TestStore_MissingKeyFileIsNonFatal(t *testing.T) {
	store := keys.NewStore(keys.StoreConfig{
		KeyFilePath: filepath.Join(t.TempDir(), "absent.env"),
		DisableEnv:  true,
	})

	lookup, err := store.GetKey("anything")
	assert.NoError(t, err)
	assert.Nil(t, lookup)
}
