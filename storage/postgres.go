package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dacut/hpc-lab-maker/interfaces"
)

// PostgresStore implements interfaces.CredentialStore on PostgreSQL.
// Conditional writes are single statements whose WHERE clause carries the
// condition; a zero row count means the condition failed.
type PostgresStore struct {
	pool        *pgxpool.Pool
	eventsTable string
	usersTable  string
	log         *slog.Logger
}

// NewPostgresStore connects to dsn. Tables are named "<prefix>_events" and
// "<prefix>_users".
func NewPostgresStore(ctx context.Context, dsn, prefix string, log *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresStore{
		pool:        pool,
		eventsTable: pgx.Identifier{prefix + "_events"}.Sanitize(),
		usersTable:  pgx.Identifier{prefix + "_users"}.Sanitize(),
		log:         log,
	}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.eventsTable + ` (
			event_id               TEXT PRIMARY KEY,
			event_name             TEXT,
			next_uid               BIGINT NOT NULL DEFAULT 0,
			allowed_subnets        TEXT[],
			default_ami            TEXT,
			default_instance_type  TEXT,
			default_security_group TEXT,
			default_volume_size    BIGINT,
			efs_id                 TEXT,
			admin_ssh_key          TEXT,
			secret_key             TEXT,
			one_time_password_hash TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS ` + s.usersTable + ` (
			email           TEXT NOT NULL,
			event_id        TEXT NOT NULL,
			password_hash   TEXT,
			full_name       TEXT NOT NULL DEFAULT '',
			allow_contact   BOOLEAN NOT NULL DEFAULT FALSE,
			creation_date   TIMESTAMPTZ NOT NULL DEFAULT now(),
			ssh_private_key TEXT NOT NULL DEFAULT '',
			ssh_public_key  TEXT NOT NULL DEFAULT '',
			user_id         BIGINT NOT NULL DEFAULT 0,
			instance_id     TEXT,
			PRIMARY KEY (email, event_id)
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// GetEvent reads an event.
func (s *PostgresStore) GetEvent(ctx context.Context, eventID string) (*interfaces.Event, error) {
	var e interfaces.Event
	err := s.pool.QueryRow(ctx, `SELECT event_id,
			COALESCE(event_name, ''), next_uid, COALESCE(allowed_subnets, '{}'),
			COALESCE(default_ami, ''), COALESCE(default_instance_type, ''),
			COALESCE(default_security_group, ''), COALESCE(default_volume_size, 0),
			COALESCE(efs_id, ''), COALESCE(admin_ssh_key, ''),
			COALESCE(secret_key, ''), COALESCE(one_time_password_hash, '')
		FROM `+s.eventsTable+` WHERE event_id = $1`, eventID).Scan(
		&e.EventID, &e.EventName, &e.NextUID, &e.AllowedSubnets,
		&e.DefaultAMI, &e.DefaultInstanceType, &e.DefaultSecurityGroup, &e.DefaultVolumeSize,
		&e.EFSID, &e.AdminSSHKey, &e.SecretKey, &e.OneTimePasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: event %s", interfaces.ErrNotFound, eventID)
	}
	if err != nil {
		s.log.Error("Failed to read event", slog.String("event_id", eventID), "err", err)
		return nil, fmt.Errorf("get event %s: %w", eventID, err)
	}
	if len(e.AllowedSubnets) == 0 {
		e.AllowedSubnets = nil
	}
	return &e, nil
}

// PutEvent upserts provisioning defaults; next_uid only moves up.
func (s *PostgresStore) PutEvent(ctx context.Context, event *interfaces.Event) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO `+s.eventsTable+` AS e (event_id, event_name, next_uid,
			allowed_subnets, default_ami, default_instance_type, default_security_group,
			default_volume_size, efs_id, admin_ssh_key)
		VALUES ($1, NULLIF($2, ''), $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8::bigint, 0), NULLIF($9, ''), NULLIF($10, ''))
		ON CONFLICT (event_id) DO UPDATE SET
			event_name = EXCLUDED.event_name,
			next_uid = GREATEST(e.next_uid, EXCLUDED.next_uid),
			allowed_subnets = EXCLUDED.allowed_subnets,
			default_ami = EXCLUDED.default_ami,
			default_instance_type = EXCLUDED.default_instance_type,
			default_security_group = EXCLUDED.default_security_group,
			default_volume_size = EXCLUDED.default_volume_size,
			efs_id = EXCLUDED.efs_id,
			admin_ssh_key = EXCLUDED.admin_ssh_key`,
		event.EventID, event.EventName, event.NextUID, event.AllowedSubnets,
		event.DefaultAMI, event.DefaultInstanceType, event.DefaultSecurityGroup,
		event.DefaultVolumeSize, event.EFSID, event.AdminSSHKey)
	if err != nil {
		s.log.Error("Failed to write event", slog.String("event_id", event.EventID), "err", err)
		return fmt.Errorf("put event %s: %w", event.EventID, err)
	}
	return nil
}

// GetUser reads a user.
func (s *PostgresStore) GetUser(ctx context.Context, email, eventID string) (*interfaces.User, error) {
	var u interfaces.User
	err := s.pool.QueryRow(ctx, `SELECT email, event_id, COALESCE(password_hash, ''), full_name,
			allow_contact, creation_date, ssh_private_key, ssh_public_key, user_id,
			COALESCE(instance_id, '')
		FROM `+s.usersTable+` WHERE email = $1 AND event_id = $2`, email, eventID).Scan(
		&u.Email, &u.EventID, &u.PasswordHash, &u.FullName, &u.AllowContact, &u.CreationDate,
		&u.SSHPrivateKey, &u.SSHPublicKey, &u.UserID, &u.InstanceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s in event %s", interfaces.ErrNotFound, email, eventID)
	}
	if err != nil {
		s.log.Error("Failed to read user", slog.String("event_id", eventID), "err", err)
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// IncrementNextUID advances next_uid only if it equals expected.
func (s *PostgresStore) IncrementNextUID(ctx context.Context, eventID string, expected int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE `+s.eventsTable+` SET next_uid = next_uid + 1
		WHERE event_id = $1 AND next_uid = $2`, eventID, expected)
	if err != nil {
		return fmt.Errorf("increment NextUID of %s: %w", eventID, err)
	}
	if tag.RowsAffected() == 0 {
		return interfaces.ErrConflict
	}
	return nil
}

// CreateUserIfAbsent inserts the user unless its key already exists.
func (s *PostgresStore) CreateUserIfAbsent(ctx context.Context, user *interfaces.User) error {
	tag, err := s.pool.Exec(ctx, `INSERT INTO `+s.usersTable+` (email, event_id, password_hash,
			full_name, allow_contact, creation_date, ssh_private_key, ssh_public_key, user_id, instance_id)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, NULLIF($10, ''))
		ON CONFLICT (email, event_id) DO NOTHING`,
		user.Email, user.EventID, user.PasswordHash, user.FullName, user.AllowContact,
		user.CreationDate, user.SSHPrivateKey, user.SSHPublicKey, user.UserID, user.InstanceID)
	if err != nil {
		s.log.Error("Failed to create user", slog.String("event_id", user.EventID), "err", err)
		return fmt.Errorf("create user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return interfaces.ErrAlreadyExists
	}
	return nil
}

// UpdateUserField sets one column of an existing user.
func (s *PostgresStore) UpdateUserField(ctx context.Context, email, eventID, field string, value interface{}) error {
	col, err := userColumn(field)
	if err != nil {
		return err
	}
	return s.execUser(ctx, `UPDATE `+s.usersTable+` SET `+col+` = $3 WHERE email = $1 AND event_id = $2`, email, eventID, value)
}

// RemoveUserField resets one column of an existing user to its default.
func (s *PostgresStore) RemoveUserField(ctx context.Context, email, eventID, field string) error {
	col, err := userColumn(field)
	if err != nil {
		return err
	}
	return s.execUser(ctx, `UPDATE `+s.usersTable+` SET `+col+` = DEFAULT WHERE email = $1 AND event_id = $2`, email, eventID)
}

func (s *PostgresStore) execUser(ctx context.Context, sql, email, eventID string, args ...interface{}) error {
	tag, err := s.pool.Exec(ctx, sql, append([]interface{}{email, eventID}, args...)...)
	if err != nil {
		s.log.Error("Failed to update user", slog.String("event_id", eventID), "err", err)
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s in event %s", interfaces.ErrNotFound, email, eventID)
	}
	return nil
}

// SetEventFieldIfAbsent sets a column only while it is NULL, creating the
// event row if needed.
func (s *PostgresStore) SetEventFieldIfAbsent(ctx context.Context, eventID, field string, value interface{}) error {
	col, err := eventColumn(field)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO `+s.eventsTable+` AS e (event_id, `+col+`) VALUES ($1, $2)
		ON CONFLICT (event_id) DO UPDATE SET `+col+` = EXCLUDED.`+col+` WHERE e.`+col+` IS NULL`, eventID, value)
	if err != nil {
		return fmt.Errorf("update event %s: %w", eventID, err)
	}
	return nil
}

// UpdateEventField sets a column, creating the event row if needed.
func (s *PostgresStore) UpdateEventField(ctx context.Context, eventID, field string, value interface{}) error {
	col, err := eventColumn(field)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO `+s.eventsTable+` (event_id, `+col+`) VALUES ($1, $2)
		ON CONFLICT (event_id) DO UPDATE SET `+col+` = EXCLUDED.`+col, eventID, value)
	if err != nil {
		return fmt.Errorf("update event %s: %w", eventID, err)
	}
	return nil
}

// RemoveEventFieldIfPresent resets a column to its default only if it is set.
func (s *PostgresStore) RemoveEventFieldIfPresent(ctx context.Context, eventID, field string) error {
	col, err := eventColumn(field)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `UPDATE `+s.eventsTable+` SET `+col+` = DEFAULT
		WHERE event_id = $1 AND `+col+` IS NOT NULL`, eventID)
	if err != nil {
		return fmt.Errorf("update event %s: %w", eventID, err)
	}
	if tag.RowsAffected() == 0 {
		return interfaces.ErrConflict
	}
	return nil
}

// postgresDSN strips the store's own query parameters from a URI before it
// is handed to the driver.
func postgresDSN(u *url.URL) (string, string) {
	query := u.Query()
	prefix := query.Get("prefix")
	if prefix == "" {
		prefix = "hpclab"
	}
	query.Del("prefix")

	c := *u
	c.RawQuery = query.Encode()
	return c.String(), prefix
}
