// Package persistence holds what the Postgres and in-memory stores share.
package persistence

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/MayankBharati/solidtracker/internal/domain"
)

var errMalformedCursor = errors.New("malformed cursor")

// EncodeCursor renders c as an opaque URL-safe token of the form base64url(started_at "~" id).
// A nil cursor encodes to the empty string, which marks the last page.
func EncodeCursor(c *domain.Cursor) string {
	if c == nil {
		return ""
	}
	plain := c.StartedAt.UTC().Format(time.RFC3339Nano) + "~" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(plain))
}

// DecodeCursor is the inverse of EncodeCursor. Blank input means the first page.
func DecodeCursor(token string) (*domain.Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	plain, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, errMalformedCursor
	}
	stamp, id, ok := strings.Cut(string(plain), "~")
	if !ok || id == "" {
		return nil, errMalformedCursor
	}
	startedAt, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return nil, errMalformedCursor
	}
	return &domain.Cursor{StartedAt: startedAt, ID: id}, nil
}

func ClampLimit(limit, def, max int) int {
	switch {
	case limit <= 0:
		return def
	case limit > max:
		return max
	default:
		return limit
	}
}
