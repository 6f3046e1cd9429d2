// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package server holds the process-wide shared state every connection acts
// against: the store, the blocking coordinator, the channel manager, the
// replica manager, the ACL store, and the config view. ExecuteCommand is the
// sole path through which a dispatcher mutates shared state; propagation to
// replicas and pub/sub fan-out happen here, not inside the store.
package server

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/ksuid"

	"github.com/ClusterCockpit/cc-kvstore/internal/acl"
	"github.com/ClusterCockpit/cc-kvstore/internal/blocking"
	"github.com/ClusterCockpit/cc-kvstore/internal/command"
	"github.com/ClusterCockpit/cc-kvstore/internal/config"
	"github.com/ClusterCockpit/cc-kvstore/internal/pubsub"
	"github.com/ClusterCockpit/cc-kvstore/internal/replication"
	"github.com/ClusterCockpit/cc-kvstore/internal/resp"
	"github.com/ClusterCockpit/cc-kvstore/internal/store"
	"github.com/ClusterCockpit/cc-kvstore/pkg/log"
)

// Server is constructed once in main and injected into every connection's
// session. There is deliberately no package-level singleton: every
// collaborator is reached through an explicit reference held by Server.
type Server struct {
	Store    *store.Store
	Blocking *blocking.Coordinator
	PubSub   *pubsub.Manager
	Replicas *replication.Manager
	ACL      *acl.Store // nil when no ACL database was configured
	Config   config.ProgramConfig

	// ReplID identifies this master across a replica's lifetime, returned in
	// the FULLRESYNC reply.
	ReplID string

	commandsTotal *prometheus.CounterVec
	keysExpired   prometheus.Counter
}

func New(st *store.Store, bc *blocking.Coordinator, ps *pubsub.Manager, rm *replication.Manager, aclStore *acl.Store, cfg config.ProgramConfig) *Server {
	return &Server{
		Store:    st,
		Blocking: bc,
		PubSub:   ps,
		Replicas: rm,
		ACL:      aclStore,
		Config:   cfg,
		ReplID:   ksuid.New().String(),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvstore",
			Name:      "commands_processed_total",
			Help:      "Commands executed, labeled by command name.",
		}, []string{"command"}),
		keysExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvstore",
			Name:      "keys_expired_total",
			Help:      "Keys removed by the active expiry sweep.",
		}),
	}
}

// Collectors exposes the server's prometheus collectors for registration by
// the diagnostics HTTP surface.
func (s *Server) Collectors() []prometheus.Collector {
	return []prometheus.Collector{s.commandsTotal, s.keysExpired}
}

// RecordExpired is called by the background expiry sweep after reaping n
// keys.
func (s *Server) RecordExpired(n int) {
	if n > 0 {
		s.keysExpired.Add(float64(n))
	}
}

// ExecuteCommand runs every command that cannot suspend the caller. BLPOP,
// XREAD, and WAIT are routed through ExecuteBlocking instead (even a
// non-blocking XREAD, since dispatch below has no case for it) — a session's
// dispatch loop should call ExecuteBlocking uniformly and let it delegate
// back here for everything else. Successful write commands are broadcast to
// replicas verbatim after applying locally, matching the ordering guarantee
// that a write reaches the replica queue in the order it took effect.
func (s *Server) ExecuteCommand(cmd command.Command) resp.Value {
	s.commandsTotal.WithLabelValues(cmd.Kind.Name()).Inc()
	log.Debugf("server: executing %s", cmd.Kind.Name())

	v := s.dispatch(cmd)
	if cmd.IsWrite() && v.Kind != resp.Error {
		s.Replicas.Broadcast(cmd.Raw)
	}
	return v
}

func (s *Server) dispatch(cmd command.Command) resp.Value {
	switch cmd.Kind {
	case command.Invalid:
		return resp.ErrorValue("ERR " + cmd.InvalidReason)

	case command.Ping:
		return resp.SimpleStringValue("PONG")

	case command.Echo:
		return resp.BulkStringValue(cmd.Value)

	case command.Get:
		v, ok := s.Store.Get(cmd.Key)
		if !ok {
			return resp.NullBulkString()
		}
		return resp.BulkStringValue(v)

	case command.Set:
		s.Store.Set(cmd.Key, cmd.Value, expiryOf(cmd))
		return resp.SimpleStringValue("OK")

	case command.ConfigGet:
		val, ok := s.Config.Get(cmd.Pattern)
		if !ok {
			return resp.ArrayValue(nil)
		}
		return resp.ArrayValue([]resp.Value{
			resp.BulkStringValue([]byte(cmd.Pattern)),
			resp.BulkStringValue([]byte(val)),
		})

	case command.Keys:
		names := s.Store.Keys(cmd.Pattern)
		items := make([]resp.Value, len(names))
		for i, n := range names {
			items[i] = resp.BulkStringValue([]byte(n))
		}
		return resp.ArrayValue(items)

	case command.InfoReplication:
		return resp.BulkStringValue([]byte(s.infoReplication()))

	case command.TypeOf:
		return resp.SimpleStringValue(s.Store.TypeOf(cmd.Key))

	case command.Incr:
		n, err := s.Store.Incr(cmd.Key)
		if err != nil {
			return storeErrorValue(err)
		}
		return resp.IntegerValue(n)

	case command.RPush:
		n, err := s.Store.ListPush(cmd.Key, cmd.Values, false)
		if err != nil {
			return storeErrorValue(err)
		}
		return resp.IntegerValue(int64(n))

	case command.LPush:
		n, err := s.Store.ListPush(cmd.Key, cmd.Values, true)
		if err != nil {
			return storeErrorValue(err)
		}
		return resp.IntegerValue(int64(n))

	case command.LRange:
		items, err := s.Store.ListRange(cmd.Key, cmd.Start, cmd.End)
		if err != nil {
			return storeErrorValue(err)
		}
		return bulkArray(items)

	case command.LLen:
		n, err := s.Store.ListLen(cmd.Key)
		if err != nil {
			return storeErrorValue(err)
		}
		return resp.IntegerValue(int64(n))

	case command.LPop:
		count := int64(1)
		hadCount := cmd.HasCount
		if hadCount {
			count = cmd.Count
		}
		items, existed, err := s.Store.ListPop(cmd.Key, int(count))
		if err != nil {
			return storeErrorValue(err)
		}
		if !existed {
			if hadCount {
				return resp.NullArray()
			}
			return resp.NullBulkString()
		}
		if !hadCount {
			if len(items) == 0 {
				return resp.NullBulkString()
			}
			return resp.BulkStringValue(items[0])
		}
		return bulkArray(items)

	case command.XAdd:
		id, err := s.Store.AddStream(cmd.Key, cmd.IDSpec, toFieldValues(cmd.FieldValues))
		if err != nil {
			return storeErrorValue(err)
		}
		return resp.BulkStringValue([]byte(id.String()))

	case command.XRange:
		entries, err := s.Store.XRange(cmd.Key, cmd.RangeStart, cmd.RangeEnd)
		if err != nil {
			return storeErrorValue(err)
		}
		return streamEntriesArray(entries)

	case command.ZAdd:
		n, err := s.Store.ZAdd(cmd.Key, cmd.Score, cmd.Member)
		if err != nil {
			return storeErrorValue(err)
		}
		return resp.IntegerValue(int64(n))

	case command.ZRank:
		rank, ok, err := s.Store.ZRank(cmd.Key, cmd.Member)
		if err != nil {
			return storeErrorValue(err)
		}
		if !ok {
			return resp.NullBulkString()
		}
		return resp.IntegerValue(int64(rank))

	case command.ZRange:
		members, err := s.Store.ZRange(cmd.Key, cmd.Start, cmd.End)
		if err != nil {
			return storeErrorValue(err)
		}
		items := make([]resp.Value, len(members))
		for i, m := range members {
			items[i] = resp.BulkStringValue([]byte(m.Name))
		}
		return resp.ArrayValue(items)

	case command.ZCard:
		n, err := s.Store.ZCard(cmd.Key)
		if err != nil {
			return storeErrorValue(err)
		}
		return resp.IntegerValue(int64(n))

	case command.ZScore:
		score, ok, err := s.Store.ZScore(cmd.Key, cmd.Member)
		if err != nil {
			return storeErrorValue(err)
		}
		if !ok {
			return resp.NullBulkString()
		}
		return resp.BulkStringValue([]byte(formatScore(score)))

	case command.ZRem:
		n, err := s.Store.ZRem(cmd.Key, cmd.Member)
		if err != nil {
			return storeErrorValue(err)
		}
		return resp.IntegerValue(int64(n))

	case command.GeoAdd:
		n, err := s.Store.GeoAdd(cmd.Key, cmd.Lon, cmd.Lat, cmd.Member)
		if err != nil {
			return storeErrorValue(err)
		}
		return resp.IntegerValue(int64(n))

	case command.GeoPos:
		positions, err := s.Store.GeoPos(cmd.Key, cmd.Keys)
		if err != nil {
			return storeErrorValue(err)
		}
		items := make([]resp.Value, len(positions))
		for i, p := range positions {
			if p == nil {
				items[i] = resp.NullArray()
				continue
			}
			items[i] = resp.ArrayValue([]resp.Value{
				resp.BulkStringValue([]byte(strconv.FormatFloat(p[0], 'f', -1, 64))),
				resp.BulkStringValue([]byte(strconv.FormatFloat(p[1], 'f', -1, 64))),
			})
		}
		return resp.ArrayValue(items)

	case command.GeoDist:
		dist, ok, err := s.Store.GeoDist(cmd.Key, cmd.Member, cmd.Member2)
		if err != nil {
			return storeErrorValue(err)
		}
		if !ok {
			return resp.NullBulkString()
		}
		return resp.BulkStringValue([]byte(dist))

	case command.GeoSearch:
		meters, ok := store.UnitToMeters(cmd.Unit)
		if !ok {
			return resp.ErrorValue("ERR unsupported unit provided. please use M, KM, FT, MI")
		}
		members, err := s.Store.GeoSearch(cmd.Key, cmd.Lon, cmd.Lat, cmd.Radius*meters)
		if err != nil {
			return storeErrorValue(err)
		}
		items := make([]resp.Value, len(members))
		for i, m := range members {
			items[i] = resp.BulkStringValue([]byte(m))
		}
		return resp.ArrayValue(items)

	case command.Publish:
		n := s.PubSub.Publish(cmd.Channel, cmd.Message)
		return resp.IntegerValue(int64(n))

	case command.Acl:
		return s.executeAcl(cmd.AclArgs)

	case command.Quit:
		return resp.SimpleStringValue("OK")

	default:
		return resp.ErrorValue(fmt.Sprintf("ERR command %q not handled outside a blocking-aware path", cmd.Kind.Name()))
	}
}

func expiryOf(cmd command.Command) int64 {
	if cmd.HasExpiry {
		return cmd.ExpiryMs
	}
	return 0
}

func storeErrorValue(err error) resp.Value {
	return resp.ErrorValue(err.Error())
}

func bulkArray(items [][]byte) resp.Value {
	out := make([]resp.Value, len(items))
	for i, it := range items {
		out[i] = resp.BulkStringValue(it)
	}
	return resp.ArrayValue(out)
}

func toFieldValues(fvs []command.FieldValue) []store.FieldValue {
	out := make([]store.FieldValue, len(fvs))
	for i, fv := range fvs {
		out[i] = store.FieldValue{Field: fv.Field, Value: fv.Value}
	}
	return out
}

func streamEntriesArray(entries []store.StreamEntry) resp.Value {
	items := make([]resp.Value, len(entries))
	for i, e := range entries {
		fields := make([]resp.Value, 0, len(e.Fields)*2)
		for _, fv := range e.Fields {
			fields = append(fields,
				resp.BulkStringValue([]byte(fv.Field)),
				resp.BulkStringValue([]byte(fv.Value)))
		}
		items[i] = resp.ArrayValue([]resp.Value{
			resp.BulkStringValue([]byte(e.ID.String())),
			resp.ArrayValue(fields),
		})
	}
	return resp.ArrayValue(items)
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (s *Server) infoReplication() string {
	role := "master"
	if s.Config.ReplicaOf != "" {
		role = "slave"
	}
	return fmt.Sprintf("# Replication\r\nrole:%s\r\nconnected_slaves:%d\r\nmaster_replid:%s\r\nmaster_repl_offset:%d\r\n",
		role, s.Replicas.Count(), s.ReplID, s.Replicas.Offset())
}
