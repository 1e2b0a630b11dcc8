package monitor

import "github.com/google/uuid"

// IDGenerator produces identifiers for records created without one.
// Substituting a deterministic implementation keeps tests stable.
type IDGenerator interface {
	ID() string
}

type UUIDGenerator struct{}

func (UUIDGenerator) ID() string {
	return uuid.New().String()
}
