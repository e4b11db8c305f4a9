// Copyright (C) 2025 the greenlight-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package postgres implements the plugin's datastore abstraction against
// PostgreSQL: a single "datastore" table keyed by the joined path
// segments, holding client configuration (glconf/request). Signer-state
// entries are not written to it.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blockstream/greenlight-core/pkg/store"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Store implements store.Datastore for PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore opens a connection pool and verifies connectivity.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Get implements store.Datastore.
func (s *Store) Get(ctx context.Context, key store.Key) ([]byte, error) {
	const query = `SELECT value FROM datastore WHERE key = $1`

	var value []byte
	err := s.pool.QueryRow(ctx, query, key.String()).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %q: %w", key.String(), err)
	}
	return value, nil
}

// Put implements store.Datastore, upserting the value for key.
func (s *Store) Put(ctx context.Context, key store.Key, value []byte) error {
	const query = `
		INSERT INTO datastore (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := s.pool.Exec(ctx, query, key.String(), value); err != nil {
		return fmt.Errorf("postgres: put %q: %w", key.String(), err)
	}
	return nil
}

// Delete implements store.Datastore.
func (s *Store) Delete(ctx context.Context, key store.Key) error {
	const query = `DELETE FROM datastore WHERE key = $1`
	if _, err := s.pool.Exec(ctx, query, key.String()); err != nil {
		return fmt.Errorf("postgres: delete %q: %w", key.String(), err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
