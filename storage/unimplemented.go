package storage

import (
	"context"
	"iter"

	"github.com/poiesic/archivist/core"
)

// Unimplemented fails every Repository operation with ErrNotImplemented.
// Backends embed it so that operations they don't override fail loudly.
type Unimplemented struct{}

var _ Repository = Unimplemented{}

func (Unimplemented) Initialize(context.Context) error { return ErrNotImplemented }

func (Unimplemented) Finalize(context.Context) error { return ErrNotImplemented }

func (Unimplemented) Save(context.Context, *core.Record) (*core.Record, error) {
	return nil, ErrNotImplemented
}

func (Unimplemented) FindLatestByServiceIDAndDocumentType(context.Context, string, string, ...ReadOption) (*core.Record, error) {
	return nil, ErrNotImplemented
}

func (Unimplemented) FindByID(context.Context, core.ID, ...ReadOption) (*core.Record, error) {
	return nil, ErrNotImplemented
}

func (Unimplemented) FindAll(context.Context, ...ReadOption) ([]*core.Record, error) {
	return nil, ErrNotImplemented
}

func (Unimplemented) Count(context.Context) (int, error) { return 0, ErrNotImplemented }

func (Unimplemented) Iterate(context.Context, ...ReadOption) iter.Seq2[*core.Record, error] {
	return Fail(ErrNotImplemented)
}

func (Unimplemented) RemoveAll(context.Context) error { return ErrNotImplemented }

func (Unimplemented) LoadRecordContent(context.Context, *core.Record) (*core.Record, error) {
	return nil, ErrNotImplemented
}
