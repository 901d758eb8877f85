// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

type SessionID string
type LogID string
type RowID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewLogID() LogID {
	return LogID(uuid.New().String())
}

func NewRowID() RowID {
	return RowID(uuid.New().String())
}
