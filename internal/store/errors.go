// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package store

import "errors"

// ErrWrongType is returned when a command is applied to a key holding a
// value of a different kind, e.g. LPUSH against a key created by SET.
var ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

// ErrNotInteger is returned by Incr when the existing string value cannot be
// parsed as a signed 64-bit integer. It is a distinct sentinel rather than a
// reuse of a zero return value, so a legitimately stored "0" is never
// misread as a failure.
var ErrNotInteger = errors.New("ERR value is not an integer or out of range")

// ErrInvalidStreamID is returned by stream operations given a malformed ID.
var ErrInvalidStreamID = errors.New("ERR Invalid stream ID specified as stream command argument")

// ErrStreamIDTooSmall is returned by AddStream when the new ID is not
// strictly greater than the stream's last ID.
var ErrStreamIDTooSmall = errors.New("ERR The ID specified in XADD is equal or smaller than the target stream top item")

// ErrStreamIDZero is returned by AddStream when the caller explicitly
// supplies the reserved minimum ID 0-0.
var ErrStreamIDZero = errors.New("ERR The ID specified in XADD must be greater than 0-0")

// ErrGeoOutOfRange is returned by GeoAdd when the supplied coordinate falls
// outside the valid WGS84 longitude/latitude range.
var ErrGeoOutOfRange = errors.New("ERR invalid longitude,latitude pair")
