package common

import (
	"github.com/google/uuid"
)

// NewRowID generates a unique canonical-row ID with the "row_" prefix, used
// when the upstream item carries no id of its own.
func NewRowID() string {
	return "row_" + uuid.New().String()
}

// NewJobID generates a unique job ID with the "ws_" prefix, used when the
// upstream provider did not mint one.
func NewJobID() string {
	return "ws_" + uuid.New().String()
}
