package agentdirectory

import "errors"

// ErrNotFound is returned when the requested agent record does not exist.
// Callers distinguish it from other database errors via errors.Is.
var ErrNotFound = errors.New("agentdirectory: agent not found")
