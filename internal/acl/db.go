// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package acl is the external collaborator named in the spec's component
// table as the "Auth/ACL stub": a SQLite-backed user store that answers ACL
// WHOAMI/LIST/CAT. The replication handshake does not consult it. It sits
// beyond the CORE's boundary in the same way the
// teacher's repository package sits beyond its GraphQL resolvers: the
// dispatcher calls it, but it owns its own storage and migrations.
package acl

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite3 "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	mattnsqlite3 "github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/ClusterCockpit/cc-kvstore/pkg/log"
)

//go:embed migrations/sqlite3/*
var migrationFiles embed.FS

// queryLogHooks logs every statement at debug level, the same shape as the
// teacher's repository.Hooks wrapped around the sqlite3 driver.
type queryLogHooks struct{}

type beginKey struct{}

func (queryLogHooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("acl: query %q %v", query, args)
	return context.WithValue(ctx, beginKey{}, time.Now()), nil
}

func (queryLogHooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(beginKey{}).(time.Time); ok {
		log.Debugf("acl: took %s", time.Since(begin))
	}
	return ctx, nil
}

var registerHooksOnce sync.Once

// Store is the ACL/user database. Construction opens the SQLite file,
// registers query-logging hooks once per process, and runs pending
// migrations before returning.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the SQLite database at path and migrates
// it to the latest schema version.
func Open(path string) (*Store, error) {
	registerHooksOnce.Do(func() {
		sql.Register("sqlite3_acl_hooks", sqlhooks.Wrap(&mattnsqlite3.SQLiteDriver{}, queryLogHooks{}))
	})

	db, err := sqlx.Open("sqlite3_acl_hooks", fmt.Sprintf("%s?_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("acl: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite does not benefit from concurrent writers

	if err := migrateUp(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	driver, err := migratesqlite3.WithInstance(db, &migratesqlite3.Config{})
	if err != nil {
		return fmt.Errorf("acl: migration driver: %w", err)
	}
	src, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return fmt.Errorf("acl: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("acl: migration setup: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("acl: migration up: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
