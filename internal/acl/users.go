// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package acl

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/crypto/bcrypt"

	"github.com/ClusterCockpit/cc-kvstore/pkg/log"
)

// User is a persisted ACL row. PasswordHash is the bcrypt hash checked by
// VerifyPassword; ACL LIST renders it in each user's "#<hash>" field.
type User struct {
	Username     string
	PasswordHash string
	Roles        []string
	CreatedAt    time.Time
}

// Categories enumerated by ACL CAT. The store does not implement
// per-command permission checking, so this list is fixed rather than
// derived from a command table.
var Categories = []string{"read", "write", "admin", "replication", "keyspace"}

// CreateUser inserts a new ACL row, hashing password with bcrypt. roles is
// stored as a JSON array.
func (s *Store) CreateUser(username, password string, roles []string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("acl: hash password for %q: %w", username, err)
	}
	rolesJSON, err := json.Marshal(roles)
	if err != nil {
		return fmt.Errorf("acl: marshal roles for %q: %w", username, err)
	}

	_, err = sq.Insert("users").
		Columns("username", "password_hash", "roles").
		Values(username, string(hash), string(rolesJSON)).
		RunWith(s.db).Exec()
	if err != nil {
		return fmt.Errorf("acl: create user %q: %w", username, err)
	}
	log.Infof("acl: created user %q with roles %s", username, rolesJSON)
	return nil
}

// GetUser looks up a single user by name.
func (s *Store) GetUser(username string) (*User, error) {
	var u User
	var rawRoles string
	err := sq.Select("username", "password_hash", "roles", "created_at").From("users").
		Where(sq.Eq{"username": username}).RunWith(s.db).
		QueryRow().Scan(&u.Username, &u.PasswordHash, &rawRoles, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("acl: get user %q: %w", username, err)
	}
	if err := json.Unmarshal([]byte(rawRoles), &u.Roles); err != nil {
		return nil, fmt.Errorf("acl: unmarshal roles for %q: %w", username, err)
	}
	return &u, nil
}

// ListUsers returns every persisted user, ordered by username, backing ACL
// LIST.
func (s *Store) ListUsers() ([]*User, error) {
	rows, err := sq.Select("username", "password_hash", "roles", "created_at").
		From("users").OrderBy("username").RunWith(s.db).Query()
	if err != nil {
		return nil, fmt.Errorf("acl: list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		var rawRoles string
		if err := rows.Scan(&u.Username, &u.PasswordHash, &rawRoles, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("acl: scan user row: %w", err)
		}
		if err := json.Unmarshal([]byte(rawRoles), &u.Roles); err != nil {
			return nil, fmt.Errorf("acl: unmarshal roles: %w", err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

// DeleteUser removes a user row. Returns false if no such user existed.
func (s *Store) DeleteUser(username string) (bool, error) {
	res, err := sq.Delete("users").Where(sq.Eq{"username": username}).RunWith(s.db).Exec()
	if err != nil {
		return false, fmt.Errorf("acl: delete user %q: %w", username, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acl: delete user %q: %w", username, err)
	}
	return n > 0, nil
}

// VerifyPassword reports whether password matches the stored hash for
// username. The server's command and replication paths do not call it.
func (s *Store) VerifyPassword(username, password string) (bool, error) {
	u, err := s.GetUser(username)
	if err != nil {
		return false, err
	}
	if u == nil {
		return false, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return false, nil
	}
	return true, nil
}
