// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ingest

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// verifyToken checks the legacy single-sided _token auth mode: an
// HMAC-signed JWT independent of the mTLS client-CA bundle, so a
// station's credential can be revoked without touching the CA. It is only
// ever consulted in addition to a required, already-verified client
// certificate -- never as a substitute for one.
func verifyToken(token, secret string) error {
	if token == "" {
		return fmt.Errorf("ingest: token required but absent")
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return fmt.Errorf("ingest: parse token: %w", err)
	}
	if !parsed.Valid {
		return fmt.Errorf("ingest: token not valid")
	}
	return nil
}

// IssueToken mints a station's legacy token, for the admin-facing CLI that
// provisions a new station's credentials alongside its TLS client cert.
func IssueToken(station string, secret string) (string, error) {
	claims := jwt.MapClaims{"station": station}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}
