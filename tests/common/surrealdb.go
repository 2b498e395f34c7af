// Package common holds shared integration-test fixtures. Storage tests run
// against one SurrealDB container per test binary; each test carves out its
// own database so runs never interfere.
package common

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	surrealImage = "surrealdb/surrealdb:v3.0.0"
	surrealPort  = "8000/tcp"
	bootDeadline = 60 * time.Second
)

var (
	bootOnce sync.Once
	shared   *SurrealDB
	bootErr  error
)

// SurrealDB is a handle to the shared test container.
type SurrealDB struct {
	container testcontainers.Container
	endpoint  string
}

// StartSurrealDB returns the shared container, booting it on first use.
// Later callers get the same instance and connect to separate databases.
func StartSurrealDB(t *testing.T) *SurrealDB {
	t.Helper()

	bootOnce.Do(func() {
		shared, bootErr = bootSurrealDB(context.Background())
	})
	if bootErr != nil {
		t.Fatalf("SurrealDB container unavailable: %v", bootErr)
	}
	return shared
}

func bootSurrealDB(ctx context.Context) (*SurrealDB, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        surrealImage,
			ExposedPorts: []string{surrealPort},
			Cmd:          []string{"start", "--user", "root", "--pass", "root"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(surrealPort),
				wait.ForLog("Started web server"),
			).WithDeadline(bootDeadline),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", surrealImage, err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("resolve container host: %w", err)
	}
	port, err := container.MappedPort(ctx, surrealPort)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("resolve mapped port: %w", err)
	}

	return &SurrealDB{
		container: container,
		endpoint:  fmt.Sprintf("ws://%s:%s/rpc", host, port.Port()),
	}, nil
}

// Address returns the WebSocket RPC endpoint for connecting clients.
func (s *SurrealDB) Address() string {
	return s.endpoint
}

// Cleanup terminates the container. Optional; the testcontainers reaper
// collects it when the process exits.
func (s *SurrealDB) Cleanup() {
	if s != nil && s.container != nil {
		s.container.Terminate(context.Background())
	}
}
