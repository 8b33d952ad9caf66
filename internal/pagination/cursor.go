// Package pagination implements opaque keyset-pagination cursors.
//
// A cursor names the sort field and carries the sort value and row ID of the
// last-seen row. Pages are addressed by data, never by row offset, so rows
// inserted or deleted behind a cursor never shift the page it points at.
package pagination

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SortField names a column executions can be keyset-sorted by.
type SortField string

// SortCreatedAt is the only supported sort field. The type exists so a
// decoded cursor can be checked against the field the caller asked for.
const SortCreatedAt SortField = "created_at"

// Direction selects which side of the cursor a page is read from.
type Direction int

const (
	// Forward reads rows strictly after the cursor position.
	Forward Direction = iota
	// Backward reads rows strictly before the cursor position.
	Backward
)

// ErrMalformed is returned for any cursor string not produced by Encode.
var ErrMalformed = errors.New("pagination: malformed cursor")

// ErrAmbiguousDirection is returned when both after and before are supplied.
var ErrAmbiguousDirection = errors.New("pagination: ambiguous pagination direction")

// Cursor is a decoded keyset position. ID breaks ties between rows sharing
// the same sort value, giving a total order.
type Cursor struct {
	Field SortField `json:"field"`
	Value time.Time `json:"value"`
	ID    uuid.UUID `json:"id"`
}

// Encode serializes a cursor to its opaque wire form. Encoding is
// deterministic: the same cursor always produces the same string.
func Encode(c Cursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses an opaque cursor string. It rejects anything that does not
// round-trip back to the identical string, so truncated, padded, or
// hand-forged cursors fail with ErrMalformed instead of decoding to an
// arbitrary page.
func Decode(raw string) (Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return Cursor{}, ErrMalformed
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var c Cursor
	if err := dec.Decode(&c); err != nil {
		return Cursor{}, ErrMalformed
	}
	if c.Field != SortCreatedAt || c.ID == uuid.Nil || c.Value.IsZero() {
		return Cursor{}, ErrMalformed
	}
	if Encode(c) != raw {
		return Cursor{}, ErrMalformed
	}
	return c, nil
}
