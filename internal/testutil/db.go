package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestDB is a migrated PostgreSQL container for one test.
type TestDB struct {
	DB        *sqlx.DB
	ConnStr   string
	container testcontainers.Container
}

// credentials are the DB_* variables the container is created with.
type credentials struct {
	user, password, name, host string
}

func loadCredentials() (credentials, bool) {
	_ = godotenv.Load()
	c := credentials{
		user:     os.Getenv("DB_USERNAME"),
		password: os.Getenv("DB_PASSWORD"),
		name:     os.Getenv("DB_NAME"),
		host:     os.Getenv("DB_HOST"),
	}
	return c, c.user != "" && c.password != "" && c.name != "" && c.host != ""
}

// migrationsURL points at the repository's migrations directory regardless of
// which package the test runs from.
func migrationsURL() string {
	_, file, _, _ := runtime.Caller(0)
	return "file://" + filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// SetupTestDB starts PostgreSQL, applies every migration and connects. The
// test is skipped when the DB_* variables are not set.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()
	creds, ok := loadCredentials()
	if !ok {
		t.Skip("DB_USERNAME, DB_PASSWORD, DB_NAME and DB_HOST are required for PostgreSQL tests")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     creds.user,
				"POSTGRES_PASSWORD": creds.password,
				"POSTGRES_DB":       creds.name,
			},
			WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	td := &TestDB{container: container}
	if err := td.connect(ctx, creds); err != nil {
		if terr := container.Terminate(ctx); terr != nil {
			t.Logf("Failed to terminate container: %v", terr)
		}
		t.Fatal(err)
	}
	return td
}

func (td *TestDB) connect(ctx context.Context, creds credentials) error {
	port, err := td.container.MappedPort(ctx, "5432")
	if err != nil {
		return errors.Wrap(err, "mapped port")
	}
	td.ConnStr = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		creds.user, creds.password, creds.host, port.Port(), creds.name)

	if td.DB, err = sqlx.Open("postgres", td.ConnStr); err != nil {
		return errors.Wrap(err, "connect to test DB")
	}
	for attempt := 1; ; attempt++ {
		err = td.DB.Ping()
		if err == nil {
			break
		}
		if attempt == 10 {
			return errors.Wrap(err, "ping test DB")
		}
		time.Sleep(500 * time.Millisecond)
	}

	m, err := migrate.New(migrationsURL(), td.ConnStr)
	if err != nil {
		return errors.Wrap(err, "initialize migrations")
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}

// Truncate empties every table between tests that commit.
func (td *TestDB) Truncate(t *testing.T) {
	_, err := td.DB.Exec(`TRUNCATE scheduled_notifications, notification_rules, notification_templates,
		event_attendees, events, tasks, members, workflow_steps, workflows RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("Failed to truncate tables: %v", err)
	}
}

// Teardown closes the connection and removes the container.
func (td *TestDB) Teardown(t *testing.T) {
	if err := td.DB.Close(); err != nil {
		t.Errorf("Failed to close DB connection: %v", err)
	}
	if err := td.container.Terminate(context.Background()); err != nil {
		t.Fatalf("Failed to terminate container: %v", err)
	}
}
