// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package command

import "testing"

func argv(parts ...string) [][]byte {
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = []byte(p)
	}
	return out
}

func TestParseSetWithPX(t *testing.T) {
	cmd := Parse(argv("SET", "foo", "bar", "PX", "1000"))
	if cmd.Kind != Set || cmd.Key != "foo" || string(cmd.Value) != "bar" {
		t.Fatalf("Parse() = %+v", cmd)
	}
	if !cmd.HasExpiry || cmd.ExpiryMs != 1000 {
		t.Errorf("expiry not parsed: %+v", cmd)
	}
}

func TestParseUnknownCommandIsInvalid(t *testing.T) {
	cmd := Parse(argv("FROBNICATE", "x"))
	if cmd.Kind != Invalid {
		t.Errorf("Parse() = %+v, want Invalid", cmd)
	}
}

func TestParseBLPopConvertsSecondsToMillis(t *testing.T) {
	cmd := Parse(argv("BLPOP", "a", "b", "1.5"))
	if cmd.Kind != BLPop {
		t.Fatalf("Parse() = %+v", cmd)
	}
	if len(cmd.Keys) != 2 || cmd.TimeoutMs != 1500 {
		t.Errorf("Parse() = %+v, want keys [a b] timeout 1500ms", cmd)
	}
	if !cmd.IsBlocking() {
		t.Error("BLPOP should be IsBlocking()")
	}
}

func TestParseXReadSplitsStreamsAndIDs(t *testing.T) {
	cmd := Parse(argv("XREAD", "BLOCK", "100", "STREAMS", "s1", "s2", "0-0", "$"))
	if cmd.Kind != XRead {
		t.Fatalf("Parse() = %+v", cmd)
	}
	if !cmd.HasBlock || cmd.BlockMs != 100 {
		t.Errorf("block not parsed: %+v", cmd)
	}
	if len(cmd.Streams) != 2 || cmd.Streams[0] != (StreamQuery{Key: "s1", ID: "0-0"}) || cmd.Streams[1] != (StreamQuery{Key: "s2", ID: "$"}) {
		t.Errorf("streams not split correctly: %+v", cmd.Streams)
	}
	if !cmd.IsBlocking() {
		t.Error("XREAD BLOCK should be IsBlocking()")
	}
}

func TestParseXReadUnbalancedIsInvalid(t *testing.T) {
	cmd := Parse(argv("XREAD", "STREAMS", "s1", "s2", "0-0"))
	if cmd.Kind != Invalid {
		t.Errorf("Parse() = %+v, want Invalid for unbalanced STREAMS", cmd)
	}
}

func TestParseGeoSearchPositionalFraming(t *testing.T) {
	cmd := Parse(argv("GEOSEARCH", "geo", "FROMLONLAT", "-122.4194", "37.7749", "BYRADIUS", "10", "km"))
	if cmd.Kind != GeoSearch {
		t.Fatalf("Parse() = %+v", cmd)
	}
	if cmd.Lon != -122.4194 || cmd.Lat != 37.7749 || cmd.Radius != 10 || cmd.Unit != "km" {
		t.Errorf("Parse() = %+v", cmd)
	}
}

func TestParseReconstructsRawBytes(t *testing.T) {
	cmd := Parse(argv("SET", "foo", "bar"))
	want := "*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n"
	if string(cmd.Raw) != want {
		t.Errorf("Raw = %q, want %q", cmd.Raw, want)
	}
}

func TestParseWaitReturnsNAndTimeout(t *testing.T) {
	cmd := Parse(argv("WAIT", "2", "100"))
	if cmd.Kind != Wait || cmd.N != 2 || cmd.TimeoutMs != 100 {
		t.Errorf("Parse() = %+v", cmd)
	}
	if !cmd.IsBlocking() {
		t.Error("WAIT should be IsBlocking()")
	}
}
