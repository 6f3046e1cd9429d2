// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package snapshot populates the store at startup from a local file or an
// S3 object, applying the same newline-delimited command format either
// source produces. It is deliberately a thin loader: every line becomes an
// ordinary Command run through the server exactly as a client's command
// would be, rather than a bespoke binary format with its own decoder.
package snapshot

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ClusterCockpit/cc-kvstore/internal/command"
	"github.com/ClusterCockpit/cc-kvstore/internal/resp"
	"github.com/ClusterCockpit/cc-kvstore/internal/server"
	"github.com/ClusterCockpit/cc-kvstore/pkg/log"
)

// Loader opens the snapshot's byte stream. The caller is responsible for
// closing it.
type Loader interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// FileLoader reads a snapshot from a path on local disk.
type FileLoader struct {
	Path string
}

func (l FileLoader) Open(ctx context.Context) (io.ReadCloser, error) {
	return os.Open(l.Path)
}

// IsNotExist reports whether err is the "no snapshot at this path" case a
// caller should treat as a fresh empty store rather than a startup failure.
func IsNotExist(err error) bool {
	return os.IsNotExist(err)
}

// Load reads every line ld produces and applies it to srv as a command,
// returning how many lines were applied. A blank line or one starting with
// "#" is skipped, so a hand-edited snapshot can carry comments.
func Load(ctx context.Context, ld Loader, srv *server.Server) (int, error) {
	rc, err := ld.Open(ctx)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	applied := 0
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		argv := make([][]byte, len(fields))
		for i, f := range fields {
			argv[i] = []byte(f)
		}
		cmd := command.Parse(argv)
		if cmd.Kind == command.Invalid {
			return applied, fmt.Errorf("snapshot: line %d: %s", lineNo, cmd.InvalidReason)
		}
		if v := srv.ExecuteCommand(cmd); v.Kind == resp.Error {
			return applied, fmt.Errorf("snapshot: line %d: %s", lineNo, v.Str)
		}
		applied++
	}
	if err := scanner.Err(); err != nil {
		return applied, fmt.Errorf("snapshot: reading: %w", err)
	}

	log.Infof("snapshot: applied %d entries", applied)
	return applied, nil
}
