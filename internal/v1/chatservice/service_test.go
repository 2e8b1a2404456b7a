package chatservice

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticechat/chatcore/internal/v1/auth"
	"github.com/latticechat/chatcore/internal/v1/config"
	"github.com/latticechat/chatcore/internal/v1/types"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                  "8080",
		GoEnv:                 "test",
		Namespace:             "/chat-service",
		HistoryMaxMessages:    50,
		SkipAuth:              true,
		CloseTimeout:          10 * time.Millisecond,
		BusAckTimeout:         50 * time.Millisecond,
		EnableDirectMessages:  true,
		EnableRoomsManagement: true,
		EnableUserlistUpdates: true,
	}
}

// stubValidator is a deterministic TokenValidator for tests: it treats the
// token string itself as the resolved subject, or fails for one sentinel
// value.
type stubValidator struct{}

func (stubValidator) ValidateToken(token string) (*auth.CustomClaims, error) {
	if token == "bad" {
		return nil, assert.AnError
	}
	return &auth.CustomClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: token}}, nil
}

func TestNewChatService_MemoryMode(t *testing.T) {
	svc, err := NewChatService(testConfig(), nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	assert.Equal(t, "/chat-service", svc.Namespace())
	assert.Nil(t, svc.RedisService())
}

func TestResolveUsername_SkipAuthTrustsQueryParam(t *testing.T) {
	cfg := testConfig()
	svc, err := NewChatService(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	name, err := svc.resolveUsername(map[string][]string{"user": {"alice"}})
	require.NoError(t, err)
	assert.Equal(t, types.Username("alice"), name)

	_, err = svc.resolveUsername(map[string][]string{})
	assert.Error(t, err)
}

func TestResolveUsername_RejectsInvalidCharset(t *testing.T) {
	cfg := testConfig()
	svc, err := NewChatService(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	for _, name := range []string{"a:b", "a{b", "a}b", "a\x7Fb", ""} {
		_, err := svc.resolveUsername(map[string][]string{"user": {name}})
		assert.Error(t, err, "username %q must be rejected", name)
	}

	cfg.SkipAuth = false
	svc2, err := NewChatService(cfg, stubValidator{})
	require.NoError(t, err)
	defer func() { _ = svc2.Close() }()

	_, err = svc2.resolveUsername(map[string][]string{"token": {"a:b"}})
	assert.Error(t, err, "JWT subject with a reserved character must be rejected")
}

func TestResolveUsername_RequiresTokenWhenAuthEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.SkipAuth = false
	svc, err := NewChatService(cfg, stubValidator{})
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	_, err = svc.resolveUsername(map[string][]string{})
	assert.Error(t, err, "missing token must fail")

	_, err = svc.resolveUsername(map[string][]string{"token": {"bad"}})
	assert.Error(t, err, "validator error must fail")

	name, err := svc.resolveUsername(map[string][]string{"token": {"carol"}})
	require.NoError(t, err)
	assert.Equal(t, types.Username("carol"), name)
}

func TestResolveUsername_NilValidatorFailsClosed(t *testing.T) {
	cfg := testConfig()
	cfg.SkipAuth = false
	svc, err := NewChatService(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	_, err = svc.resolveUsername(map[string][]string{"token": {"carol"}})
	assert.Error(t, err)
}

func TestSocketBindUnbind(t *testing.T) {
	svc, err := NewChatService(testConfig(), nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	_, ok := svc.socketUser("s1")
	assert.False(t, ok)

	svc.bindSocket("s1", "alice")
	name, ok := svc.socketUser("s1")
	require.True(t, ok)
	assert.Equal(t, types.Username("alice"), name)

	svc.unbindSocket("s1")
	_, ok = svc.socketUser("s1")
	assert.False(t, ok)
}

func TestFirstQueryValue(t *testing.T) {
	assert.Equal(t, "alice", firstQueryValue(map[string][]string{"user": {"alice", "bob"}}, "user"))
	assert.Equal(t, "", firstQueryValue(map[string][]string{"user": {}}, "user"))
	assert.Equal(t, "", firstQueryValue(map[string][]string{}, "user"))
}

func TestCheckOriginFunc(t *testing.T) {
	allowAll := checkOriginFunc(&config.Config{AllowedOrigins: ""})
	req := &http.Request{Header: http.Header{"Origin": {"https://evil.example"}}}
	assert.True(t, allowAll(req))

	allowlisted := checkOriginFunc(&config.Config{AllowedOrigins: "https://chat.example, https://admin.example"})
	assert.True(t, allowlisted(&http.Request{Header: http.Header{"Origin": {"https://chat.example"}}}))
	assert.False(t, allowlisted(&http.Request{Header: http.Header{"Origin": {"https://evil.example"}}}))
}

func TestRawString(t *testing.T) {
	assert.Equal(t, `"hello"`, string(rawString("hello")))
}
