package piifield

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Finder is the persistence collaborator used for blind index lookups.
// It receives a Column that already passed the column guard and a digest;
// it must compare them with a parameterized equality filter and return the
// matching rows with every column of reg.
type Finder interface {
	FindEqual(ctx context.Context, reg *Registry, col Column, digest string) ([]Row, error)
}

// FinderFunc adapts a function to Finder.
type FinderFunc func(ctx context.Context, reg *Registry, col Column, digest string) ([]Row, error)

// FindEqual implements Finder.
func (f FinderFunc) FindEqual(ctx context.Context, reg *Registry, col Column, digest string) ([]Row, error) {
	return f(ctx, reg, col, digest)
}

// FindBy returns the record whose field matches plaintext after normalization,
// or nil, nil when none does. With several matches the first row the finder
// returned wins; declare the field Unique when that matters.
//
// field goes through the column guard before anything else happens: unknown
// or non-searchable names fail with ErrFieldNotSearchable and no query runs.
func (e *Engine) FindBy(ctx context.Context, f Finder, reg *Registry, field, plaintext string) (*Record, error) {
	recs, err := e.find(ctx, f, reg, field, plaintext)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// FindByStrict is FindBy returning ErrNotFound instead of nil.
func (e *Engine) FindByStrict(ctx context.Context, f Finder, reg *Registry, field, plaintext string) (*Record, error) {
	rec, err := e.FindBy(ctx, f, reg, field, plaintext)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// FindAllBy returns every record whose field matches plaintext.
func (e *Engine) FindAllBy(ctx context.Context, f Finder, reg *Registry, field, plaintext string) ([]*Record, error) {
	return e.find(ctx, f, reg, field, plaintext)
}

// Taken reports whether a record other than excludeID already holds plaintext
// in field. Pass "" as excludeID for new records.
func (e *Engine) Taken(ctx context.Context, f Finder, reg *Registry, field, plaintext, excludeID string) (bool, error) {
	recs, err := e.find(ctx, f, reg, field, plaintext)
	if err != nil {
		return false, err
	}
	for _, rec := range recs {
		if rec.ID() != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) find(ctx context.Context, f Finder, reg *Registry, field, plaintext string) ([]*Record, error) {
	col, err := reg.AssertSearchable(field)
	if err != nil {
		e.metrics.lookup(reg.recordType, lookupRejected)
		e.log.WithField("record_type", reg.recordType).Warn("lookup rejected by column guard")
		return nil, err
	}
	spec := reg.fields[field]
	if e.closed() {
		return nil, ErrKeysClosed
	}

	digest, ok := e.index.ComputeNormalized(plaintext, spec.Normalizer)
	if !ok {
		// Absent values have no digest and match nothing.
		e.metrics.lookup(reg.recordType, lookupMiss)
		return nil, nil
	}

	rows, err := f.FindEqual(ctx, reg, col, digest)
	if err != nil {
		e.metrics.lookup(reg.recordType, lookupError)
		return nil, fmt.Errorf("piifield: lookup %s: %w", reg.recordType, err)
	}
	if len(rows) == 0 {
		e.metrics.lookup(reg.recordType, lookupMiss)
		return nil, nil
	}

	recs := make([]*Record, 0, len(rows))
	for _, row := range rows {
		rec, err := e.LoadRecord(reg, row)
		if err != nil {
			e.metrics.lookup(reg.recordType, lookupError)
			return nil, err
		}
		recs = append(recs, rec)
	}
	e.metrics.lookup(reg.recordType, lookupHit)
	e.log.WithFields(logrus.Fields{
		"record_type": reg.recordType,
		"field":       field,
		"matches":     len(recs),
	}).Debug("blind index lookup")
	return recs, nil
}
