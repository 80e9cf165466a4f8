/*
Copyright © 2025 Denis Khalturin
All rights reserved.

Redistribution and use in source and binary forms, with or without
modification, are permitted provided that the following conditions are met:

1. Redistributions of source code must retain the above copyright notice,
   this list of conditions and the following disclaimer.

2. Redistributions in binary form must reproduce the above copyright notice,
   this list of conditions and the following disclaimer in the documentation
   and/or other materials provided with the distribution.

3. Neither the name of the copyright holder nor the names of its contributors
   may be used to endorse or promote products derived from this software
   without specific prior written permission.

THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE
ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE
LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR
CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF
SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN
CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE)
ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
POSSIBILITY OF SUCH DAMAGE.
*/
// prettier-ignore-end
// Package postgres implements the durable PinStore variant: one row per
// (tool_id, domain) pair, safe for concurrent readers and writers.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"schemapin-go/internal/pinstore"
	"schemapin-go/internal/pinstore/postgres/migrations"
)

// Store is a PostgreSQL-backed durable PinStore.
type Store struct {
	ctx             context.Context
	client          *sql.DB
	dsn             string
	connMaxIdleTime time.Duration
	connMaxLifetime time.Duration
	maxIdleConns    int
	maxOpenConns    int
}

// Option configures a Store.
type Option func(*Store)

func WithConnMaxIdleTime(d time.Duration) Option { return func(s *Store) { s.connMaxIdleTime = d } }
func WithConnMaxLifetime(d time.Duration) Option { return func(s *Store) { s.connMaxLifetime = d } }
func WithMaxIdleConns(n int) Option              { return func(s *Store) { s.maxIdleConns = n } }
func WithMaxOpenConns(n int) Option              { return func(s *Store) { s.maxOpenConns = n } }

// New opens a connection to dsn, runs pending migrations, and returns a
// ready-to-use durable pin store.
func New(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	s := &Store{dsn: dsn, ctx: ctx}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("postgres", s.dsn)
	if err != nil {
		return nil, fmt.Errorf("pinstore/postgres: open dsn: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinstore/postgres: connect: %w", err)
	}

	if err := migrations.Up(db); err != nil {
		return nil, fmt.Errorf("pinstore/postgres: migrate: %w", err)
	}

	db.SetConnMaxIdleTime(s.connMaxIdleTime)
	db.SetConnMaxLifetime(s.connMaxLifetime)
	db.SetMaxIdleConns(s.maxIdleConns)
	db.SetMaxOpenConns(s.maxOpenConns)

	s.client = db
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping verifies the database connection is alive, for health probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.PingContext(ctx)
}

// CheckAndPin implements the PinStore contract against a single-row upsert
// transaction: the insert only occurs when the row is absent, so a
// concurrent first observation is serialized by the row lock.
func (s *Store) CheckAndPin(toolID, domain, fingerprint, publicKeyPEM, developerName string) (pinstore.Status, error) {
	tx, err := s.client.BeginTx(s.ctx, nil)
	if err != nil {
		return "", fmt.Errorf("pinstore/postgres: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var existing string
	err = tx.QueryRowContext(s.ctx,
		`SELECT fingerprint FROM pinned_keys WHERE tool_id = $1 AND domain = $2 FOR UPDATE`,
		toolID, domain,
	).Scan(&existing)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(s.ctx, `
INSERT INTO pinned_keys (tool_id, domain, fingerprint, public_key_pem, developer_name, pinned_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now())`,
			toolID, domain, fingerprint, publicKeyPEM, developerName,
		)
		if err != nil {
			return "", fmt.Errorf("pinstore/postgres: insert: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("pinstore/postgres: commit: %w", err)
		}
		return pinstore.StatusFirstUse, nil

	case err != nil:
		return "", fmt.Errorf("pinstore/postgres: query: %w", err)

	default:
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("pinstore/postgres: commit: %w", err)
		}
		if existing == fingerprint {
			return pinstore.StatusPinned, nil
		}
		return pinstore.StatusChanged, nil
	}
}

// GetPinned returns the pinned fingerprint for (toolID, domain).
func (s *Store) GetPinned(toolID, domain string) (string, bool, error) {
	var fingerprint string
	err := s.client.QueryRowContext(s.ctx,
		`SELECT fingerprint FROM pinned_keys WHERE tool_id = $1 AND domain = $2`,
		toolID, domain,
	).Scan(&fingerprint)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("pinstore/postgres: query: %w", err)
	}
	return fingerprint, true, nil
}

// UpdateLastVerified stamps the row's last_verified column to now.
func (s *Store) UpdateLastVerified(toolID, domain string) error {
	_, err := s.client.ExecContext(s.ctx,
		`UPDATE pinned_keys SET last_verified = now(), updated_at = now() WHERE tool_id = $1 AND domain = $2`,
		toolID, domain,
	)
	if err != nil {
		return fmt.Errorf("pinstore/postgres: update last_verified: %w", err)
	}
	return nil
}

// Remove deletes the pin record for (toolID, domain).
func (s *Store) Remove(toolID, domain string) error {
	_, err := s.client.ExecContext(s.ctx,
		`DELETE FROM pinned_keys WHERE tool_id = $1 AND domain = $2`,
		toolID, domain,
	)
	if err != nil {
		return fmt.Errorf("pinstore/postgres: remove: %w", err)
	}
	return nil
}

// RequestAdapter narrows a Store plus the currently-resolved discovery
// document fields into the single-method engine.PinStore shape the
// verification engine depends on. It is constructed fresh per verification
// call since publicKeyPEM and developerName come from that call's already
// resolved discovery document. Errors from the underlying Store are logged
// and surfaced as pinstore.StatusChanged, which the engine always treats as
// a hard failure; the alternative (stopping the verification engine's
// PinStore interface from returning an error at all) would let a pin-store
// outage silently behave like "first use" instead.
type RequestAdapter struct {
	Store         *Store
	PublicKeyPEM  string
	DeveloperName string
}

// CheckAndPin implements engine.PinStore.
func (a *RequestAdapter) CheckAndPin(toolID, domain, fingerprint string) pinstore.Status {
	status, err := a.Store.CheckAndPin(toolID, domain, fingerprint, a.PublicKeyPEM, a.DeveloperName)
	if err != nil {
		slog.Error("pinstore/postgres: check-and-pin failed", "tool_id", toolID, "domain", domain, "error", err)
		return pinstore.StatusChanged
	}
	return status
}

// Record is one exported/imported pin entry, matching the pin-store
// export/import JSON shape.
type Record struct {
	ToolID        string     `json:"tool_id"`
	Domain        string     `json:"domain"`
	Fingerprint   string     `json:"fingerprint"`
	PublicKeyPEM  string     `json:"public_key_pem"`
	DeveloperName string     `json:"developer_name,omitempty"`
	PinnedAt      time.Time  `json:"pinned_at"`
	LastVerified  *time.Time `json:"last_verified,omitempty"`
}

// List returns every pinned record.
func (s *Store) List() ([]Record, error) {
	rows, err := s.client.QueryContext(s.ctx, `
SELECT tool_id, domain, fingerprint, public_key_pem, developer_name, pinned_at, last_verified
FROM pinned_keys
ORDER BY tool_id, domain`)
	if err != nil {
		return nil, fmt.Errorf("pinstore/postgres: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec          Record
			lastVerified sql.NullTime
		)
		if err := rows.Scan(&rec.ToolID, &rec.Domain, &rec.Fingerprint, &rec.PublicKeyPEM, &rec.DeveloperName, &rec.PinnedAt, &lastVerified); err != nil {
			return nil, fmt.Errorf("pinstore/postgres: scan: %w", err)
		}
		if lastVerified.Valid {
			rec.LastVerified = &lastVerified.Time
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pinstore/postgres: rows: %w", err)
	}
	return out, nil
}

// Export serializes every pinned record as a JSON array.
func (s *Store) Export() ([]byte, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("pinstore/postgres: marshal export: %w", err)
	}
	return out, nil
}

// Import loads records from raw JSON. When overwrite is false, an existing
// (tool_id, domain) row is left untouched; when true, it is replaced.
func (s *Store) Import(raw []byte, overwrite bool) error {
	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("pinstore/postgres: unmarshal import: %w", err)
	}

	tx, err := s.client.BeginTx(s.ctx, nil)
	if err != nil {
		return fmt.Errorf("pinstore/postgres: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, rec := range records {
		var q string
		if overwrite {
			q = `
INSERT INTO pinned_keys (tool_id, domain, fingerprint, public_key_pem, developer_name, pinned_at, last_verified, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (tool_id, domain) DO UPDATE SET
    fingerprint    = EXCLUDED.fingerprint,
    public_key_pem = EXCLUDED.public_key_pem,
    developer_name = EXCLUDED.developer_name,
    pinned_at      = EXCLUDED.pinned_at,
    last_verified  = EXCLUDED.last_verified,
    updated_at     = now()`
		} else {
			q = `
INSERT INTO pinned_keys (tool_id, domain, fingerprint, public_key_pem, developer_name, pinned_at, last_verified, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (tool_id, domain) DO NOTHING`
		}

		if _, err := tx.ExecContext(s.ctx, q,
			rec.ToolID, rec.Domain, rec.Fingerprint, rec.PublicKeyPEM, rec.DeveloperName, rec.PinnedAt, rec.LastVerified,
		); err != nil {
			slog.Error("pinstore/postgres: import row failed", "tool_id", rec.ToolID, "domain", rec.Domain, "error", err)
			return fmt.Errorf("pinstore/postgres: import row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pinstore/postgres: commit import: %w", err)
	}
	return nil
}
