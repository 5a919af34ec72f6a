package xid

import (
	"github.com/google/uuid"
)

// New returns a prefixed random identifier such as "prd_4f6c...".
func New(prefix string) string {
	id := uuid.New()
	if prefix == "" {
		return id.String()
	}
	return prefix + "_" + id.String()
}
