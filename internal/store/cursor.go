// ABOUTME: Opaque pagination cursors anchored on a thread id and sequence number
// ABOUTME: Cursors stay valid under concurrent appends because seq never moves

package store

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Cursor is an opaque position in a thread's item sequence.
type Cursor string

// NewCursor creates a cursor pointing at the item with the given seq.
// Format is base64url(thread_id|seq)
func NewCursor(threadID string, seq int64) Cursor {
	data := fmt.Sprintf("%s|%d", threadID, seq)
	return Cursor(base64.URLEncoding.EncodeToString([]byte(data)))
}

// CursorPtr is a convenience for building an optional cursor argument.
func CursorPtr(c Cursor) *Cursor {
	return &c
}

// String returns the encoded cursor.
func (c Cursor) String() string {
	return string(c)
}

// decode parses the cursor and checks it belongs to threadID.
func (c Cursor) decode(threadID string) (int64, error) {
	decoded, err := base64.URLEncoding.DecodeString(string(c))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid cursor encoding", ErrInvalidArgument)
	}

	idx := strings.LastIndex(string(decoded), "|")
	if idx < 0 {
		return 0, fmt.Errorf("%w: invalid cursor format", ErrInvalidArgument)
	}

	if string(decoded[:idx]) != threadID {
		return 0, fmt.Errorf("%w: cursor belongs to another thread", ErrInvalidArgument)
	}

	seq, err := strconv.ParseInt(string(decoded[idx+1:]), 10, 64)
	if err != nil || seq < 0 {
		return 0, fmt.Errorf("%w: invalid cursor position", ErrInvalidArgument)
	}
	return seq, nil
}

// afterSeq resolves an optional cursor to a seq boundary. ok is false when no
// cursor was given.
func afterSeq(threadID string, after *Cursor) (seq int64, ok bool, err error) {
	if after == nil || *after == "" {
		return 0, false, nil
	}
	seq, err = after.decode(threadID)
	if err != nil {
		return 0, false, err
	}
	return seq, true, nil
}
