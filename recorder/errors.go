package recorder

import "errors"

var (
	// ErrSnapshotRepositoryRequired is returned when a snapshot repository is not provided.
	ErrSnapshotRepositoryRequired = errors.New("snapshot repository required")

	// ErrVersionRepositoryRequired is returned when a version repository is not provided.
	ErrVersionRepositoryRequired = errors.New("version repository required")
)
