package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"
)

var (
	// ErrConnectivity marks failures to reach the store. Callers abort the
	// current operation and retry at the range level.
	ErrConnectivity = errors.New("mongodb unreachable")
	// ErrWriteConflict marks duplicate identity rejections, which are
	// expected under replay.
	ErrWriteConflict = errors.New("mongodb write conflict")
)

const duplicateKeyCode = 11000

// Classify wraps err with ErrConnectivity or ErrWriteConflict when it
// matches either class. Other errors are returned unchanged.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConnectivity), errors.Is(err, ErrWriteConflict):
		return err
	case IsConnectivity(err):
		return fmt.Errorf("%w: %w", ErrConnectivity, err)
	case DuplicatesOnly(err):
		return fmt.Errorf("%w: %w", ErrWriteConflict, err)
	default:
		return err
	}
}

// IsConnectivity reports whether err means the server could not be reached.
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectivity) || errors.Is(err, mongo.ErrClientDisconnected) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	var sel topology.ServerSelectionError
	return errors.As(err, &sel)
}

// DuplicatesOnly reports whether every write error carried by err is a
// duplicate key rejection.
func DuplicatesOnly(err error) bool {
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		if bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
			return false
		}
		for _, we := range bwe.WriteErrors {
			if we.Code != duplicateKeyCode {
				return false
			}
		}
		return true
	}
	var we mongo.WriteException
	if errors.As(err, &we) {
		if we.WriteConcernError != nil || len(we.WriteErrors) == 0 {
			return false
		}
		for _, e := range we.WriteErrors {
			if e.Code != duplicateKeyCode {
				return false
			}
		}
		return true
	}
	return false
}

// WriteErrorCount returns the number of per-document write errors in err.
func WriteErrorCount(err error) int {
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		return len(bwe.WriteErrors)
	}
	var we mongo.WriteException
	if errors.As(err, &we) {
		return len(we.WriteErrors)
	}
	return 0
}

// DuplicateCount returns how many per-document write errors in err are
// duplicate key rejections.
func DuplicateCount(err error) int {
	n := 0
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, we := range bwe.WriteErrors {
			if we.Code == duplicateKeyCode {
				n++
			}
		}
		return n
	}
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == duplicateKeyCode {
				n++
			}
		}
	}
	return n
}
