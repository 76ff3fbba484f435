/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/stackforge/odoo-operator/pkg/monitoring"
	"github.com/stackforge/odoo-operator/pkg/resolver"
)

// conn is the slice of *pgx.Conn the provisioner needs. Tests substitute a
// recording implementation.
type conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (tx, error)
	Close(ctx context.Context) error
}

// tx is the transaction slice used for role provisioning.
type tx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// pgxConn adapts *pgx.Conn to the conn interface. Go interfaces are not
// covariant in return types, so Begin needs the explicit wrap.
type pgxConn struct{ *pgx.Conn }

func (c pgxConn) Begin(ctx context.Context) (tx, error) {
	t, err := c.Conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Provisioner creates and drops the per-instance PostgreSQL role and
// database on the cluster endpoint it was built for.
type Provisioner struct {
	cluster resolver.PostgresCluster

	// dial is swapped out in tests.
	dial func(ctx context.Context) (conn, error)
}

// NewProvisioner returns a Provisioner connecting to the given cluster's
// maintenance database.
func NewProvisioner(cluster resolver.PostgresCluster) *Provisioner {
	p := &Provisioner{cluster: cluster}
	p.dial = func(ctx context.Context) (conn, error) {
		c, err := pgx.Connect(ctx, p.connString())
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres cluster %s: %w", cluster.Host, err)
		}
		return pgxConn{c}, nil
	}
	return p
}

func (p *Provisioner) connString() string {
	parts := []string{
		fmt.Sprintf("host=%s", p.cluster.Host),
		fmt.Sprintf("port=%d", p.cluster.Port),
		"dbname=postgres",
	}
	if p.cluster.User != "" {
		parts = append(parts, fmt.Sprintf("user=%s", p.cluster.User))
	}
	if p.cluster.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", p.cluster.Password))
	}
	return strings.Join(parts, " ")
}

// Ensure converges the login role and its database. The role is created or
// its password realigned inside one transaction; CREATE DATABASE cannot run
// in a transaction block, so it executes on the control connection after the
// role committed.
func (p *Provisioner) Ensure(ctx context.Context, roleName, rolePassword, dbName string) (err error) {
	defer func() { monitoring.RecordDatabaseOperation("ensure", err) }()

	c, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	if err = p.ensureRole(ctx, c, roleName, rolePassword); err != nil {
		return err
	}
	return p.ensureDatabase(ctx, c, dbName, roleName)
}

func (p *Provisioner) ensureRole(ctx context.Context, c conn, roleName, rolePassword string) error {
	t, err := c.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer t.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var one int
	err = t.QueryRow(ctx, "SELECT 1 FROM pg_roles WHERE rolname = $1", roleName).Scan(&one)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		stmt := fmt.Sprintf("CREATE ROLE %s LOGIN PASSWORD %s",
			pgx.Identifier{roleName}.Sanitize(), quoteLiteral(rolePassword))
		if _, err := t.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("creating role %s: %w", roleName, err)
		}
	case err != nil:
		return fmt.Errorf("checking role %s: %w", roleName, err)
	default:
		// Role exists; realign the password so a rotated secret converges.
		stmt := fmt.Sprintf("ALTER ROLE %s PASSWORD %s",
			pgx.Identifier{roleName}.Sanitize(), quoteLiteral(rolePassword))
		if _, err := t.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("updating role %s: %w", roleName, err)
		}
	}

	if err := t.Commit(ctx); err != nil {
		return fmt.Errorf("committing role change: %w", err)
	}
	return nil
}

func (p *Provisioner) ensureDatabase(ctx context.Context, c conn, dbName, owner string) error {
	var one int
	err := c.QueryRow(ctx, "SELECT 1 FROM pg_database WHERE datname = $1", dbName).Scan(&one)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		stmt := fmt.Sprintf("CREATE DATABASE %s OWNER %s",
			pgx.Identifier{dbName}.Sanitize(), pgx.Identifier{owner}.Sanitize())
		if _, err := c.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("creating database %s: %w", dbName, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("checking database %s: %w", dbName, err)
	default:
		return nil
	}
}

// Drop removes the database and role. Open sessions are terminated first so
// the drop does not fail on a lingering worker connection. Both statements
// are IF EXISTS: Drop runs from a finalizer and must be idempotent.
func (p *Provisioner) Drop(ctx context.Context, roleName, dbName string) (err error) {
	defer func() { monitoring.RecordDatabaseOperation("drop", err) }()

	c, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	if _, err = c.Exec(ctx,
		"SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()",
		dbName); err != nil {
		log.FromContext(ctx).Error(err, "failed to terminate sessions", "database", dbName)
	}

	if _, err = c.Exec(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", pgx.Identifier{dbName}.Sanitize())); err != nil {
		return fmt.Errorf("dropping database %s: %w", dbName, err)
	}
	if _, err = c.Exec(ctx, fmt.Sprintf("DROP ROLE IF EXISTS %s", pgx.Identifier{roleName}.Sanitize())); err != nil {
		return fmt.Errorf("dropping role %s: %w", roleName, err)
	}
	return nil
}

// quoteLiteral single-quotes a string literal for statements that cannot
// take bind parameters (CREATE/ALTER ROLE).
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
