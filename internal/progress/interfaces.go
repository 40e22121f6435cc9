package progress

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator allocates unique job identifiers.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}
