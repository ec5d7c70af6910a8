package checkpoint

import "errors"

// ErrNotFound is returned by Load when a workflow instance has no saved
// checkpoint.
var ErrNotFound = errors.New("checkpoint: not found")
