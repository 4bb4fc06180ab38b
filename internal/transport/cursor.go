package transport

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/datasync/engine/internal/models"
)

// CursorToken is the decoded form of the default protocol's cursor:
// base64("<server_ms>|<change_uuid>"). The engine treats cursors as
// opaque; these helpers exist for fakes, tests and servers that speak
// the default protocol, where the (timestamp, uuid) pair gives
// deterministic, lexicographically stable pagination.
type CursorToken struct {
	Ms  int64     // server-assigned Unix milliseconds
	UID uuid.UUID // tiebreak within the same millisecond
}

// EncodeCursor renders a token as an opaque cursor string. The zero
// token encodes as the empty cursor ("from the beginning").
func EncodeCursor(c CursorToken) models.SyncCursor {
	if c.Ms == 0 && c.UID == uuid.Nil {
		return ""
	}
	raw := fmt.Sprintf("%d|%s", c.Ms, c.UID.String())
	return models.SyncCursor(base64.RawURLEncoding.EncodeToString([]byte(raw)))
}

// DecodeCursor parses a cursor string. Returns the zero token and false
// when the cursor is empty or malformed.
func DecodeCursor(cursor models.SyncCursor) (CursorToken, bool) {
	if cursor == "" {
		return CursorToken{}, false
	}

	b, err := base64.RawURLEncoding.DecodeString(string(cursor))
	if err != nil {
		return CursorToken{}, false
	}

	parts := strings.Split(string(b), "|")
	if len(parts) != 2 {
		return CursorToken{}, false
	}

	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return CursorToken{}, false
	}

	id, err := uuid.Parse(parts[1])
	if err != nil {
		return CursorToken{}, false
	}

	return CursorToken{Ms: ms, UID: id}, true
}

// Compare orders two tokens: -1 when a precedes b, 0 when equal, 1 when
// a is ahead of b.
func Compare(a, b CursorToken) int {
	switch {
	case a.Ms < b.Ms:
		return -1
	case a.Ms > b.Ms:
		return 1
	default:
		return strings.Compare(a.UID.String(), b.UID.String())
	}
}
