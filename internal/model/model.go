package model

import "time"

// Payload is a request body that can be written to a table. Columns returns
// the settable columns it carries. With applyNone false, fields the client
// left out or set to null are omitted so they keep their stored value.
type Payload interface {
	Columns(applyNone bool) map[string]any
}

// Timestamps are assigned by the repository on every write
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"type:timestamptz;not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"type:timestamptz;not null"`
}

// setIf adds v under key when it is set, or as NULL when applyNone is on
func setIf[V any](cols map[string]any, key string, v *V, applyNone bool) {
	if v != nil {
		cols[key] = *v
	} else if applyNone {
		cols[key] = nil
	}
}
