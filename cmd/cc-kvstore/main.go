// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ClusterCockpit/cc-kvstore/internal/acl"
	"github.com/ClusterCockpit/cc-kvstore/internal/blocking"
	"github.com/ClusterCockpit/cc-kvstore/internal/config"
	"github.com/ClusterCockpit/cc-kvstore/internal/diagnostics"
	"github.com/ClusterCockpit/cc-kvstore/internal/expiry"
	"github.com/ClusterCockpit/cc-kvstore/internal/pubsub"
	"github.com/ClusterCockpit/cc-kvstore/internal/replication"
	"github.com/ClusterCockpit/cc-kvstore/internal/runtimeenv"
	"github.com/ClusterCockpit/cc-kvstore/internal/server"
	"github.com/ClusterCockpit/cc-kvstore/internal/session"
	"github.com/ClusterCockpit/cc-kvstore/internal/snapshot"
	"github.com/ClusterCockpit/cc-kvstore/internal/store"
	"github.com/ClusterCockpit/cc-kvstore/pkg/log"
)

func main() {
	var flagConfigFile, flagLogLevel string
	var flagGops bool
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the default configuration with the keys in `config.json`")
	flag.StringVar(&flagLogLevel, "loglevel", "info", "One of: debug, info, warn, err, fatal, crit")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.Parse()

	log.SetLogLevel(flagLogLevel)

	if flagGops {
		if err := diagnostics.StartGopsAgent(); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := runtimeenv.LoadEnv("./.env"); err != nil {
		log.Fatalf("parsing './.env' file failed: %s", err.Error())
	}

	if err := config.Init(flagConfigFile); err != nil {
		log.Fatalf("loading %s failed: %s", flagConfigFile, err.Error())
	}

	if config.Keys.ReplicaOf != "" {
		parts := strings.Fields(config.Keys.ReplicaOf)
		if len(parts) != 2 {
			log.Fatalf("invalid replicaof %q: expected \"<host> <port>\"", config.Keys.ReplicaOf)
		}
	}

	bc := blocking.New()
	st := store.New(store.Hooks{OnListPush: bc.NotifyList, OnStreamAppend: bc.NotifyStream})
	ps := pubsub.New()
	rm := replication.New()

	var aclStore *acl.Store
	if config.Keys.ACLDatabase != "" {
		var err error
		aclStore, err = acl.Open(config.Keys.ACLDatabase)
		if err != nil {
			log.Fatalf("opening ACL database %s failed: %s", config.Keys.ACLDatabase, err.Error())
		}
		defer aclStore.Close()
	}

	srv := server.New(st, bc, ps, rm, aclStore, config.Keys)

	loadSnapshot(srv)

	sweeper, err := expiry.New(st, srv, expiry.DefaultInterval, expiry.DefaultSampleSize)
	if err != nil {
		log.Fatalf("starting expiry sweep failed: %s", err.Error())
	}
	sweeper.Start()
	defer sweeper.Shutdown()

	addr := ":" + config.Keys.Port
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("starting listener on %s failed: %s", addr, err.Error())
	}

	var diagServer *diagnostics.Server
	var diagListener net.Listener
	if config.Keys.DiagnosticsAddr != "" {
		diagListener, err = net.Listen("tcp", config.Keys.DiagnosticsAddr)
		if err != nil {
			log.Fatalf("starting diagnostics listener on %s failed: %s", config.Keys.DiagnosticsAddr, err.Error())
		}
		diagServer = diagnostics.New(srv, config.Keys.DiagnosticsAddr)
	}

	// Both listening sockets must already be bound before dropping
	// privileges, since binding a privileged port requires them.
	if err := runtimeenv.DropPrivileges(config.Keys.User, config.Keys.Group); err != nil {
		log.Fatalf("dropping privileges failed: %s", err.Error())
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		acceptLoop(listener, srv)
	}()

	if diagServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := diagServer.Serve(diagListener); err != nil {
				log.Errorf("diagnostics server: %s", err.Error())
			}
		}()
	}

	wg.Add(1)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer wg.Done()
		<-sigs
		runtimeenv.SystemdNotify(false, "shutting down")

		listener.Close()
		if diagServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			diagServer.Shutdown(ctx)
		}
	}()

	log.Infof("cc-kvstore listening on %s", addr)
	runtimeenv.SystemdNotify(true, "running")
	wg.Wait()
	log.Info("shutdown complete")
}

// acceptLoop accepts connections until listener is closed (triggered by the
// signal-handling goroutine), spawning one detached session per connection.
func acceptLoop(listener net.Listener, srv *server.Server) {
	var conns sync.WaitGroup
	defer conns.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		conns.Add(1)
		go func() {
			defer conns.Done()
			session.New(conn, srv).Serve(context.Background())
		}()
	}
}

// loadSnapshot populates the store at startup from dir/dbfilename, which may
// resolve to a local path or an "s3://bucket/key" URL. A missing snapshot
// file is not fatal; any other failure to read or apply it is.
func loadSnapshot(srv *server.Server) {
	path := filepath.Join(config.Keys.Dir, config.Keys.DBFilename)
	// filepath.Join would collapse the "//" of an s3:// URL, so those are
	// joined by hand.
	switch {
	case strings.HasPrefix(config.Keys.DBFilename, "s3://"):
		path = config.Keys.DBFilename
	case strings.HasPrefix(config.Keys.Dir, "s3://"):
		path = strings.TrimSuffix(config.Keys.Dir, "/") + "/" + config.Keys.DBFilename
	}

	var loader snapshot.Loader
	if bucket, key, ok := snapshot.ParseS3URL(path); ok {
		s3Loader, err := snapshot.NewS3Loader(context.Background(), bucket, key)
		if err != nil {
			log.Fatalf("configuring S3 snapshot loader failed: %s", err.Error())
		}
		loader = s3Loader
	} else {
		loader = snapshot.FileLoader{Path: path}
	}

	n, err := snapshot.Load(context.Background(), loader, srv)
	if err != nil {
		if snapshot.IsNotExist(err) {
			log.Infof("no snapshot at %s, starting with an empty store", path)
			return
		}
		log.Fatalf("loading snapshot %s failed: %s", path, err.Error())
	}
	log.Infof("loaded %d entries from %s", n, path)
}
