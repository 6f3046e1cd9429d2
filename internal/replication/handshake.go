// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package replication

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// emptyRDBHex is the shortest valid RDB payload: the "REDIS0011" header
// followed immediately by the 0xFF EOF opcode and an all-zero 8-byte
// checksum (checksums disabled). A freshly registered follower has no
// state to catch up on beyond what the subsequent write stream supplies,
// so the master always sends this fixed payload rather than serializing
// the store.
const emptyRDBHex = "524544495330303131ff0000000000000000"

// EmptyRDBPayload returns the empty-RDB bytes PSYNC sends framed as a bulk
// string, but callers must omit resp's usual trailing CRLF: PSYNC's bulk
// payload is not itself a RESP value, just length-prefixed binary.
func EmptyRDBPayload() []byte {
	b, err := hex.DecodeString(emptyRDBHex)
	if err != nil {
		panic("replication: malformed embedded RDB hex: " + err.Error())
	}
	return b
}

// FullresyncReply formats the master's reply to PSYNC: a simple string
// "FULLRESYNC <replid> <offset>".
func FullresyncReply(replID string, offset int64) string {
	return fmt.Sprintf("FULLRESYNC %s %d", replID, offset)
}

// handshakeClaims is the claim set of a replica handshake token. The
// session's PSYNC path does not check such tokens: every PSYNC is accepted.
type handshakeClaims struct {
	jwt.RegisteredClaims
	ReplicaRole string `json:"role"`
}

// TokenIssuer mints and verifies short-lived Ed25519-signed replica
// handshake tokens, the same EdDSA scheme the teacher's JWTAuthenticator
// uses for session tokens, adapted here to a single-purpose "role=replica"
// claim instead of a username/roles claim. Nothing in the REPLCONF or PSYNC
// handling calls it.
type TokenIssuer struct {
	signingKey   ed25519.PrivateKey
	verifyingKey ed25519.PublicKey
	ttl          time.Duration
}

func NewTokenIssuer(priv ed25519.PrivateKey, pub ed25519.PublicKey, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{signingKey: priv, verifyingKey: pub, ttl: ttl}
}

func (ti *TokenIssuer) Issue() (string, error) {
	now := time.Now()
	claims := handshakeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
		},
		ReplicaRole: "replica",
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(ti.signingKey)
}

func (ti *TokenIssuer) Verify(token string) error {
	parsed, err := jwt.ParseWithClaims(token, &handshakeClaims{}, func(t *jwt.Token) (interface{}, error) {
		return ti.verifyingKey, nil
	})
	if err != nil {
		return err
	}
	claims, ok := parsed.Claims.(*handshakeClaims)
	if !ok || !parsed.Valid || claims.ReplicaRole != "replica" {
		return fmt.Errorf("replication: invalid handshake token")
	}
	return nil
}
