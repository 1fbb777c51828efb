package models

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewMessageID returns a ULID for t. ULIDs sort lexically in creation order,
// and ids generated within the same millisecond stay monotonic.
func NewMessageID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}
