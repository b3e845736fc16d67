package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	mongoCtxTimeout                = 10 * time.Second
	mongoContainerStartupTimeout   = 90 * time.Second
	mongoContainerTerminateTimeout = 10 * time.Second
	mongoPingTimeout               = 2 * time.Second
	mongoPingRetries               = 5
	mongoPingRetryDelay            = 500 * time.Millisecond
	maxTestNameLength              = 40
)

var (
	mongoContainer     *MongoContainer
	mongoContainerOnce sync.Once
	errMongoContainer  error
)

// MongoContainer is a MongoDB instance shared by every test in the binary.
type MongoContainer struct {
	Container testcontainers.Container
	URI       string
}

// GetMongoContainer starts the shared MongoDB container on first use.
func GetMongoContainer(ctx context.Context) (*MongoContainer, error) {
	mongoContainerOnce.Do(func() {
		mongoContainer, errMongoContainer = startMongoContainer(ctx)
	})
	return mongoContainer, errMongoContainer
}

func startMongoContainer(ctx context.Context) (*MongoContainer, error) {
	startupCtx, cancel := context.WithTimeout(ctx, mongoContainerStartupTimeout)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "mongo:8",
		ExposedPorts: []string{"27017/tcp"},
		Env: map[string]string{
			"MONGO_INITDB_ROOT_USERNAME": "admin",
			"MONGO_INITDB_ROOT_PASSWORD": "admin123",
		},
		WaitingFor: wait.ForLog("Waiting for connections").WithStartupTimeout(mongoContainerStartupTimeout),
	}

	cont, err := testcontainers.GenericContainer(startupCtx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start MongoDB container: %w", err)
	}

	host, err := cont.Host(startupCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := cont.MappedPort(startupCtx, "27017")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	return &MongoContainer{
		Container: cont,
		URI:       fmt.Sprintf("mongodb://admin:admin123@%s", net.JoinHostPort(host, port.Port())),
	}, nil
}

// SetupTestMongoDB returns a database unique to the test on the shared
// container. The database is dropped when the test ends.
func SetupTestMongoDB(t *testing.T) *mongo.Database {
	t.Helper()
	SkipIfShort(t)

	cont, err := GetMongoContainer(context.Background())
	if err != nil {
		t.Fatalf("Failed to get shared MongoDB container: %v", err)
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cont.URI))
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}

	for i := range mongoPingRetries {
		pingCtx, pingCancel := context.WithTimeout(context.Background(), mongoPingTimeout)
		err = client.Ping(pingCtx, nil)
		pingCancel()
		if err == nil {
			break
		}
		if i < mongoPingRetries-1 {
			time.Sleep(mongoPingRetryDelay)
		}
	}
	if err != nil {
		t.Fatalf("Failed to ping MongoDB after %d retries: %v", mongoPingRetries, err)
	}

	db := client.Database(testDBName(t.Name()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), mongoCtxTimeout)
		defer cancel()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})

	return db
}

var dbNameReplacer = strings.NewReplacer("/", "_", ".", "_", " ", "_", "$", "_")

// testDBName keeps names under MongoDB's 63 character limit.
func testDBName(testName string) string {
	testName = dbNameReplacer.Replace(testName)
	if len(testName) > maxTestNameLength {
		hash := sha256.Sum256([]byte(testName))
		testName = testName[:20] + "_" + hex.EncodeToString(hash[:])[:12]
	}
	return "dashhost_test_" + testName
}

// CleanupMongoContainer terminates the shared container, typically from TestMain.
func CleanupMongoContainer() {
	if mongoContainer == nil || mongoContainer.Container == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoContainerTerminateTimeout)
	defer cancel()
	_ = mongoContainer.Container.Terminate(ctx)
}
