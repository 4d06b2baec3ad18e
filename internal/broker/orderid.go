package broker

import (
	"github.com/google/uuid"
	"github.com/jxskiss/base62"
)

const clientOrderPrefix = "alpharius-"

// NewClientOrderID returns a short unique id so that a retried submit is not filled twice.
func NewClientOrderID() string {
	id := uuid.New()
	return clientOrderPrefix + base62.EncodeToString(id[:])
}
