package uid

import "github.com/google/uuid"

// New generates a random (version 4) identifier for snapshots and requests.
func New() string {
	return uuid.NewString()
}

