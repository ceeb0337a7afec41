package snapshot

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type RedisStoreTestSuite struct {
	suite.Suite
	container testcontainers.Container
	client    *redis.Client
	sut       *RedisStore
	ctx       context.Context
}

func (s *RedisStoreTestSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := testcontainers.GenericContainer(s.ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	if err != nil {
		log.Fatal(err)
	}
	s.container = container

	endpoint, err := container.Endpoint(s.ctx, "redis")
	if err != nil {
		log.Fatal(err)
	}

	client, err := NewRedisClient(endpoint)
	if err != nil {
		log.Fatal(err)
	}
	s.client = client
	s.sut = NewRedisStore(client, "test:snapshot:", 200*time.Millisecond)
}

func (s *RedisStoreTestSuite) TearDownSuite() {
	s.client.Close()

	if err := s.container.Terminate(s.ctx); err != nil {
		log.Fatalf("error terminating redis container: %s", err)
	}
}

func (s *RedisStoreTestSuite) TestPutGet() {
	t := s.T()
	checkout := "ck_1"

	err := s.sut.Put(s.ctx, "r1", Entry{Status: "QUEUED", CheckoutRequestID: &checkout})
	assert.NoError(t, err)

	entry, ok, err := s.sut.Get(s.ctx, "r1")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "QUEUED", entry.Status)
	assert.Equal(t, "ck_1", *entry.CheckoutRequestID)

	exists, err := s.client.Exists(s.ctx, "test:snapshot:r1").Result()
	assert.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}

func (s *RedisStoreTestSuite) TestMiss() {
	_, ok, err := s.sut.Get(s.ctx, "missing")
	assert.NoError(s.T(), err)
	assert.False(s.T(), ok)
}

func (s *RedisStoreTestSuite) TestExpiry() {
	t := s.T()

	assert.NoError(t, s.sut.Put(s.ctx, "short", Entry{Status: "QUEUED"}))
	time.Sleep(400 * time.Millisecond)

	_, ok, err := s.sut.Get(s.ctx, "short")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreTestSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreTestSuite))
}
