package publisher

import (
	"errors"
	"fmt"
)

var (
	// ErrTopicMissing is returned by Preflight when the target topic does not exist
	ErrTopicMissing = errors.New("topic does not exist")

	// ErrCheckpointOutOfRange is matched by CheckpointOutOfRangeError via errors.Is
	ErrCheckpointOutOfRange = errors.New("checkpoint out of range")
)

// CheckpointOutOfRangeError means the stored checkpoint points past the end of
// the catalog: either the upstream shrank or the checkpoint is corrupted.
type CheckpointOutOfRangeError struct {
	Checkpoint    int
	CatalogLength int
}

func (e *CheckpointOutOfRangeError) Error() string {
	return fmt.Sprintf("checkpoint %d out of range of catalog with %d entries", e.Checkpoint, e.CatalogLength)
}

func (e *CheckpointOutOfRangeError) Is(target error) bool {
	return target == ErrCheckpointOutOfRange
}
