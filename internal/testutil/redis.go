// Package testutil starts throwaway Redis and MongoDB containers for
// integration tests. Tests using it call SkipIfShort first.
package testutil

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	redisCtxTimeout                = 10 * time.Second
	redisContainerStartupTimeout   = 60 * time.Second
	redisContainerTerminateTimeout = 5 * time.Second
	redisContainerMemoryLimit      = 128 * 1024 * 1024 // 128MB
	redisTestPoolSize              = 10
)

var (
	redisContainer     *RedisContainer
	redisContainerOnce sync.Once
	errRedisContainer  error
)

// RedisContainer is a Redis instance shared by every test in the binary.
type RedisContainer struct {
	Container testcontainers.Container
	Addr      string
}

// SkipIfShort skips container-backed tests under -short.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
}

// GetRedisContainer starts the shared Redis container on first use.
func GetRedisContainer(ctx context.Context) (*RedisContainer, error) {
	redisContainerOnce.Do(func() {
		redisContainer, errRedisContainer = startRedisContainer(ctx)
	})
	return redisContainer, errRedisContainer
}

func startRedisContainer(ctx context.Context) (*RedisContainer, error) {
	startupCtx, cancel := context.WithTimeout(ctx, redisContainerStartupTimeout)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.Memory = redisContainerMemoryLimit
			hc.MemorySwap = redisContainerMemoryLimit
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(redisContainerStartupTimeout),
			wait.ForListeningPort("6379/tcp").WithStartupTimeout(redisContainerStartupTimeout),
		),
	}

	cont, err := testcontainers.GenericContainer(startupCtx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Redis container: %w", err)
	}

	host, err := cont.Host(startupCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := cont.MappedPort(startupCtx, "6379")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	return &RedisContainer{
		Container: cont,
		Addr:      net.JoinHostPort(host, port.Port()),
	}, nil
}

// SetupTestRedis returns a client on the shared container. The database is
// flushed and the client closed when the test ends.
func SetupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	SkipIfShort(t)

	ctx, cancel := context.WithTimeout(context.Background(), redisCtxTimeout)
	defer cancel()

	cont, err := GetRedisContainer(context.Background())
	if err != nil {
		t.Fatalf("Failed to get shared Redis container: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cont.Addr,
		PoolSize: redisTestPoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to ping Redis: %v", err)
	}

	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), redisCtxTimeout)
		defer cleanupCancel()
		_ = client.FlushDB(cleanupCtx).Err()
		_ = client.Close()
	})

	return client
}

// SetupTestRedisWithPrefix also returns a key prefix unique to the test.
func SetupTestRedisWithPrefix(t *testing.T) (*redis.Client, string) {
	t.Helper()

	client := SetupTestRedis(t)
	return client, fmt.Sprintf("test:%s:", t.Name())
}

// CleanupRedisContainer terminates the shared container, typically from TestMain.
func CleanupRedisContainer() {
	if redisContainer == nil || redisContainer.Container == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisContainerTerminateTimeout)
	defer cancel()
	_ = redisContainer.Container.Terminate(ctx)
}
