// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package acl

import "fmt"

// DefaultUser is returned by ACL WHOAMI for a connection with no identity.
const DefaultUser = "default"

// WhoAmI reports the identity a connection is acting as: identity itself
// when non-empty, DefaultUser otherwise. The server's ACL WHOAMI handler
// always passes the empty string, since no handshake establishes an
// identity.
func (s *Store) WhoAmI(identity string) string {
	if identity == "" {
		return DefaultUser
	}
	return identity
}

// List renders ACL LIST entries in the "user <name> on #<hash> ~* &* +@<roles>"
// style real Redis uses, one line per persisted user plus the built-in
// default user. <roles> is the user's roles joined by commas, or "all" when
// the user has none.
func (s *Store) List() ([]string, error) {
	users, err := s.ListUsers()
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(users)+1)
	lines = append(lines, fmt.Sprintf("user %s on nopass ~* &* +@all", DefaultUser))
	for _, u := range users {
		lines = append(lines, fmt.Sprintf("user %s on #%s ~* &* +@%s", u.Username, u.PasswordHash, joinRoles(u.Roles)))
	}
	return lines, nil
}

// Cat returns the fixed category list backing ACL CAT.
func Cat() []string {
	out := make([]string, len(Categories))
	copy(out, Categories)
	return out
}

func joinRoles(roles []string) string {
	if len(roles) == 0 {
		return "all"
	}
	out := roles[0]
	for _, r := range roles[1:] {
		out += "," + r
	}
	return out
}
