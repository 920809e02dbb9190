package itemrepo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cosmosetl/cosmos-indexer/pkg/types"
)

// ErrRejected is returned when the store rejected some records of an
// upsert batch for reasons other than a duplicate identity.
var ErrRejected = errors.New("records rejected by store")

// TypeWriteError is the failure of one per-type task of a heterogeneous insert.
type TypeWriteError struct {
	Type       types.EntityType
	Collection string
	Count      int
	Err        error
}

func (e *TypeWriteError) Error() string {
	return fmt.Sprintf("insert %d %s items into %q: %v", e.Count, e.Type, e.Collection, e.Err)
}

func (e *TypeWriteError) Unwrap() error {
	return e.Err
}

// BatchError aggregates the failed per-type tasks of a heterogeneous insert.
// Types absent from Failures were written, so a caller can retry only the
// failed groups.
type BatchError struct {
	Failures []*TypeWriteError
}

func (e *BatchError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("%d of the item groups failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// FailedTypes lists the entity types whose group failed.
func (e *BatchError) FailedTypes() []types.EntityType {
	out := make([]types.EntityType, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Type
	}
	return out
}

// Retryable returns the items of batch that belong to a failed group.
func (e *BatchError) Retryable(batch []types.Item) []types.Item {
	failed := types.NewEntitySet(e.FailedTypes()...)
	var out []types.Item
	for _, item := range batch {
		if failed.Has(item.Type()) {
			out = append(out, item)
		}
	}
	return out
}
