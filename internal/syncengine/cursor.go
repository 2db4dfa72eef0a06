package syncengine

import (
	"fmt"
	"strconv"
	"strings"
)

// Cursor is the lexicographic-orderable pull position (§4.4.1):
// (updated_at, file_id). An absent cursor means "from the beginning".
type Cursor struct {
	UpdatedAt int64
	FileID    string
}

// String serializes the cursor as "<updated_at>_<file_id>".
func (c Cursor) String() string {
	return fmt.Sprintf("%d_%s", c.UpdatedAt, c.FileID)
}

// ParseCursor parses a cursor string produced by Cursor.String. An
// empty string is the zero Cursor, meaning "from the beginning".
func ParseCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	idx := strings.IndexByte(s, '_')
	if idx < 0 {
		return Cursor{}, fmt.Errorf("syncengine: malformed cursor %q", s)
	}
	updatedAt, err := strconv.ParseInt(s[:idx], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("syncengine: malformed cursor %q: %w", s, err)
	}
	fileID := s[idx+1:]
	if fileID == "" {
		return Cursor{}, fmt.Errorf("syncengine: malformed cursor %q", s)
	}
	return Cursor{UpdatedAt: updatedAt, FileID: fileID}, nil
}

func cursorOf(f *VaultFile) Cursor {
	return Cursor{UpdatedAt: f.UpdatedAt, FileID: f.ID}
}
