package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/contoso-cloud/gmsa-provisioner/internal/provisioner"
)

// Config holds the optional audit database settings. An empty URL disables
// the audit trail entirely; the workflow itself keeps no durable state.
type Config struct {
	URL    string `mapstructure:"url"`
	Schema string `mapstructure:"schema"`
}

// Store appends every provisioning result to the provisioning_audit table.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects the audit pool and verifies connectivity.
func Open(ctx context.Context, config Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(config.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse audit database config: %w", err)
	}

	poolConfig.MaxConns = 5

	if config.Schema != "" {
		poolConfig.ConnConfig.RuntimeParams["search_path"] = config.Schema
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create audit connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping audit database: %w", err)
	}

	slog.Info("Connected to audit database")

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Record appends one result. Timestamps and identifiers come from the
// result as reported; credential material never reaches this table.
func (s *Store) Record(ctx context.Context, result provisioner.Result) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO provisioning_audit
			(account_name, dns_host_name, status, distinguished_name,
			 sam_account_name, object_guid, error_kind, error_message, reported_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		result.AccountName,
		result.DNSHostName,
		string(result.Status),
		result.DistinguishedName,
		result.SamAccountName,
		result.ObjectGUID,
		string(result.ErrorKind),
		result.ErrorMessage,
		result.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}
