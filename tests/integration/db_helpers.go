package integration

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sentinelsec/authcore/internal/database"
	"github.com/sentinelsec/authcore/internal/models"
	"github.com/sentinelsec/authcore/internal/repositories"
	"github.com/sentinelsec/authcore/pkg/auth"
)

// TestDB manages PostgreSQL testcontainer and database operations
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs migrations, returns TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	// Create PostgreSQL container
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("authcore"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	// Get connection string
	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	// Create connection pool
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Run migrations
	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Create database.DB wrapper
	dbWrapper := &database.DB{
		Pool: pool,
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         dbWrapper,
	}, nil
}

// runMigrations executes all goose migrations
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	// Get absolute path to migrations directory
	migrationsDir, err := filepath.Abs("../../migrations")
	if err != nil {
		return fmt.Errorf("failed to get migrations path: %w", err)
	}

	// Suppress goose logs
	goose.SetLogger(log.New(io.Discard, "", 0))

	// Goose needs stdlib DB connection
	// Use stdlib adapter from pgx
	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	// Run migrations on the stdlib DB
	if err := goose.UpContext(ctx, sqlDB, migrationsDir); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"audit_logs",
		"password_history",
		"two_factor_states",
		"sessions",
		"account_lockouts",
		"ip_lockouts",
		"accounts",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// InitializeRepositories creates all repository instances from database wrapper
func InitializeRepositories(db *database.DB) (
	*repositories.AccountRepository,
	*repositories.LockoutRepository,
	*repositories.SessionRepository,
	*repositories.TwoFactorRepository,
	*repositories.PasswordHistoryRepository,
	*repositories.SettingsRepository,
	*repositories.AuditLogRepository,
) {
	return repositories.NewAccountRepository(db),
		repositories.NewLockoutRepository(db),
		repositories.NewSessionRepository(db),
		repositories.NewTwoFactorRepository(db),
		repositories.NewPasswordHistoryRepository(db),
		repositories.NewSettingsRepository(db),
		repositories.NewAuditLogRepository(db)
}

// SeedAccount inserts a test account with a hashed password
func SeedAccount(ctx context.Context, pool *pgxpool.Pool, email, password string) (*models.Account, error) {
	// Hash password
	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `
		INSERT INTO accounts (id, email, password_hash, name, role, active, password_changed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'user', TRUE, NOW(), NOW(), NOW())
		RETURNING id, email, password_hash, name, role, active, created_at, updated_at
	`

	var account models.Account
	err = pool.QueryRow(ctx, query, uuid.New().String(), email, hashedPassword, "Test Account").Scan(
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&account.Name,
		&account.Role,
		&account.Active,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}

	return &account, nil
}

// SeedSetting upserts one named setting so a test can pin policy values
func SeedSetting(ctx context.Context, pool *pgxpool.Pool, key, value string) error {
	query := `
		INSERT INTO system_settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to seed setting %s: %w", key, err)
	}
	return nil
}

// SeedExpiredSession inserts a session whose expiry is already in the past
func SeedExpiredSession(ctx context.Context, pool *pgxpool.Pool, accountID, tokenHash string) (string, error) {
	id := uuid.New().String()
	query := `
		INSERT INTO sessions (id, account_id, token_hash, purpose, device_class, created_at, last_activity, expires_at)
		VALUES ($1, $2, $3, 'full', 'unknown', NOW() - INTERVAL '2 hours', NOW() - INTERVAL '90 minutes', NOW() - INTERVAL '1 hour')
		RETURNING id
	`

	var returnedID string
	if err := pool.QueryRow(ctx, query, id, accountID, tokenHash).Scan(&returnedID); err != nil {
		return "", fmt.Errorf("failed to insert expired session: %w", err)
	}

	return returnedID, nil
}
