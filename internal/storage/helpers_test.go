package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/plugin-licensing/internal/migrations"
	"github.com/magabrotheeeer/plugin-licensing/internal/models"
)

const postgresPort = nat.Port("5432/tcp")

// setupTestDatabase starts PostgreSQL in a container and applies the
// migrations from the repository root.
func setupTestDatabase(t *testing.T) *Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{string(postgresPort)},
		Env: map[string]string{
			"POSTGRES_DB":       "testdb",
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(postgresPort),
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		).WithDeadline(3 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, postgresPort)
	require.NoError(t, err)

	connStr := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	var storage *Storage
	for range 10 {
		storage, err = New(ctx, connStr)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err, "failed to create storage after retries")
	t.Cleanup(func() { _ = storage.Close() })

	root, err := filepath.Abs("../..")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(storage.DB, filepath.Join(root, "migrations")))
	require.NoError(t, storage.CheckDatabaseReady(ctx))

	return storage
}

// testDataFactory inserts fixtures.
type testDataFactory struct {
	storage *Storage
}

func (f *testDataFactory) user(t *testing.T, email string) *models.User {
	t.Helper()
	u := &models.User{Name: "Test User", Email: email, PasswordHash: "hash", Role: models.RoleUser}
	require.NoError(t, f.storage.CreateUser(context.Background(), u))
	return u
}

func (f *testDataFactory) plugin(t *testing.T, slug string) *models.Plugin {
	t.Helper()
	p := &models.Plugin{
		Name:        "Plugin " + slug,
		Slug:        slug,
		Version:     "1.2.0",
		Status:      models.PluginPublished,
		Price:       decimal.RequireFromString("49.00"),
		Currency:    "USD",
		DownloadURL: "https://downloads.example.com/" + slug + ".zip",
	}
	require.NoError(t, f.storage.CreatePlugin(context.Background(), p))
	return p
}

func (f *testDataFactory) license(t *testing.T, key string, u *models.User, p *models.Plugin, limit int) *models.License {
	t.Helper()
	l := &models.License{
		Key:              key,
		UserID:           u.ID,
		PluginID:         p.ID,
		PluginSlug:       p.Slug,
		Type:             models.LicenseSingle,
		Status:           models.LicenseActive,
		ActivationsLimit: limit,
		PurchasedAt:      time.Now(),
		Amount:           decimal.NewNullDecimal(decimal.RequireFromString("49.00")),
		Currency:         "USD",
	}
	require.NoError(t, f.storage.CreateLicense(context.Background(), l))
	return l
}
