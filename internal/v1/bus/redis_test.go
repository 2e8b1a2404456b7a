package bus

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	svc, err := NewService(mr.Addr(), "")
	require.NoError(t, err)

	return svc, mr
}

func TestNewService(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	assert.NotNil(t, svc.Client())
	err := svc.Ping(context.Background())
	assert.NoError(t, err)
}

func TestNewService_BadAddr(t *testing.T) {
	_, err := NewService("127.0.0.1:1", "")
	assert.Error(t, err)
}

func TestPing_NilService(t *testing.T) {
	var svc *Service
	assert.NoError(t, svc.Ping(context.Background()))
	assert.Nil(t, svc.Client())
	assert.NoError(t, svc.Close())
}

func TestPing_RedisDown(t *testing.T) {
	svc, mr := newTestService(t)
	mr.Close()

	err := svc.Ping(context.Background())
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()

	assert.NoError(t, svc.Close())
}
