package registry

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// ClientID identifies one registered connection for the lifetime of the process.
type ClientID string

// IDGenerator produces candidate ClientIDs. Implementations must be safe for
// concurrent use.
type IDGenerator interface {
	Next() ClientID
}

// UUIDGenerator issues random version 4 UUIDs.
type UUIDGenerator struct{}

// Next returns a fresh random UUID string.
func (UUIDGenerator) Next() ClientID {
	return ClientID(uuid.NewString())
}

// SequenceGenerator issues increasing decimal IDs starting at 0.
type SequenceGenerator struct {
	next atomic.Uint64
}

// NewSequenceGenerator returns a generator whose first ID is "0".
func NewSequenceGenerator() *SequenceGenerator {
	return &SequenceGenerator{}
}

// Next returns the next ID in the sequence.
func (g *SequenceGenerator) Next() ClientID {
	n := g.next.Add(1) - 1
	return ClientID(strconv.FormatUint(n, 10))
}
