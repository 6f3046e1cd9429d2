// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ClusterCockpit/cc-kvstore/internal/blocking"
	"github.com/ClusterCockpit/cc-kvstore/internal/config"
	"github.com/ClusterCockpit/cc-kvstore/internal/pubsub"
	"github.com/ClusterCockpit/cc-kvstore/internal/replication"
	"github.com/ClusterCockpit/cc-kvstore/internal/server"
	"github.com/ClusterCockpit/cc-kvstore/internal/store"
)

func newTestServer() *server.Server {
	bc := blocking.New()
	st := store.New(store.Hooks{OnListPush: bc.NotifyList, OnStreamAppend: bc.NotifyStream})
	return server.New(st, bc, pubsub.New(), replication.New(), nil, config.ProgramConfig{})
}

func TestLoadAppliesEachLineAsACommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.redump")
	content := "# a comment\nSET foo bar\n\nRPUSH mylist a b c\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	srv := newTestServer()
	n, err := Load(context.Background(), FileLoader{Path: path}, srv)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 2 {
		t.Fatalf("got %d applied lines", n)
	}

	if v, ok := srv.Store.Get("foo"); !ok || string(v) != "bar" {
		t.Fatalf("got (%q, %v)", v, ok)
	}
	if n, err := srv.Store.ListLen("mylist"); err != nil || n != 3 {
		t.Fatalf("got (%d, %v)", n, err)
	}
}

func TestLoadMissingFileReportsNotExist(t *testing.T) {
	srv := newTestServer()
	_, err := Load(context.Background(), FileLoader{Path: filepath.Join(t.TempDir(), "absent")}, srv)
	if err == nil || !IsNotExist(err) {
		t.Fatalf("expected a not-exist error, got %v", err)
	}
}

func TestLoadStopsOnFirstInvalidLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.redump")
	if err := os.WriteFile(path, []byte("SET ok 1\nNOTACOMMAND\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	srv := newTestServer()
	n, err := Load(context.Background(), FileLoader{Path: path}, srv)
	if err == nil {
		t.Fatal("expected an error on the malformed second line")
	}
	if n != 1 {
		t.Fatalf("expected the first valid line to still have applied, got %d", n)
	}
}

func TestParseS3URL(t *testing.T) {
	bucket, key, ok := ParseS3URL("s3://my-bucket/path/to/dump.redump")
	if !ok || bucket != "my-bucket" || key != "path/to/dump.redump" {
		t.Fatalf("got (%q, %q, %v)", bucket, key, ok)
	}

	if _, _, ok := ParseS3URL("/local/path"); ok {
		t.Fatal("expected a local path to not parse as an S3 URL")
	}
}
