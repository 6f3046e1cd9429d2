// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package server

import (
	"strings"

	"github.com/ClusterCockpit/cc-kvstore/internal/acl"
	"github.com/ClusterCockpit/cc-kvstore/internal/resp"
)

// executeAcl answers the small set of ACL subcommands this server supports.
// A deployment started without an ACL database still answers WHOAMI and CAT
// (both static), but LIST degrades to just the default user.
func (s *Server) executeAcl(args []string) resp.Value {
	if len(args) == 0 {
		return resp.ErrorValue("ERR wrong number of arguments for 'acl' command")
	}

	switch strings.ToUpper(args[0]) {
	case "WHOAMI":
		if s.ACL != nil {
			return resp.SimpleStringValue(s.ACL.WhoAmI(""))
		}
		return resp.SimpleStringValue(acl.DefaultUser)

	case "CAT":
		return stringArray(acl.Cat())

	case "LIST":
		if s.ACL == nil {
			return resp.ArrayValue([]resp.Value{
				resp.BulkStringValue([]byte("user default on nopass ~* &* +@all")),
			})
		}
		lines, err := s.ACL.List()
		if err != nil {
			return resp.ErrorValue("ERR " + err.Error())
		}
		return stringArray(lines)

	default:
		return resp.ErrorValue("ERR unknown ACL subcommand '" + args[0] + "'")
	}
}

func stringArray(ss []string) resp.Value {
	items := make([]resp.Value, len(ss))
	for i, v := range ss {
		items[i] = resp.BulkStringValue([]byte(v))
	}
	return resp.ArrayValue(items)
}
