package models

import "time"

// Cursor is the replication checkpoint of one collection: the highest
// _modified value that has been fully merged locally.
type Cursor struct {
	LastModified int64 `json:"lastModified"`
}

// IsZero reports whether no pull batch has completed yet.
func (c Cursor) IsZero() bool {
	return c.LastModified == 0
}

// Advance returns the cursor moved to next, never backwards.
func (c Cursor) Advance(next int64) Cursor {
	if next > c.LastModified {
		return Cursor{LastModified: next}
	}
	return c
}

// MinUpdatedAt переводит курсор в значение аргумента minUpdatedAt запроса pull
func (c Cursor) MinUpdatedAt() time.Time {
	return time.UnixMilli(c.LastModified).UTC()
}

// CursorFromTime обратное преобразование для сервера
func CursorFromTime(t time.Time) Cursor {
	if t.IsZero() {
		return Cursor{}
	}
	return Cursor{LastModified: t.UnixMilli()}
}
