// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// configSchema constrains the on-disk config file to the known keys: the
// four protocol-visible ones plus the operational fields that never reach
// CONFIG GET. replicaof is validated as "host port" shaped when present.
const configSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"dir": {"type": "string"},
		"dbfilename": {"type": "string"},
		"port": {"type": "string", "pattern": "^[0-9]+$"},
		"replicaof": {"type": "string", "pattern": "^[^ ]+ [0-9]+$|^$"},
		"user": {"type": "string"},
		"group": {"type": "string"},
		"requirepass": {"type": "string"},
		"diagnostics-addr": {"type": "string"},
		"acl-database": {"type": "string"}
	},
	"additionalProperties": false
}`

// Validate checks instance (a raw config file's bytes) against
// configSchema.
func Validate(instance []byte) error {
	sch, err := jsonschema.CompileString("config.schema.json", configSchema)
	if err != nil {
		return fmt.Errorf("config: invalid embedded schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(instance, &v); err != nil {
		return fmt.Errorf("config: not valid JSON: %w", err)
	}

	return sch.Validate(v)
}
