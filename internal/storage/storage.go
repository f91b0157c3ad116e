// Package storage is the typed access layer over the document store. Each
// entity family lives in its own file; every accessor surfaces the store's
// revision token so callers can do compare-and-write updates.
package storage

import (
	"errors"

	"rollcall/datastore"
)

// Revision-aware store errors, re-exported so callers don't need to import
// the datastore package for errors.Is checks.
var (
	ErrNotFound = datastore.ErrNotFound
	ErrConflict = datastore.ErrConflict
)

// ErrAmbiguousActiveEvent means the one-active-event-per-channel invariant is
// broken in the store. This is a data corruption signal, never business-as-usual.
var ErrAmbiguousActiveEvent = errors.New("storage: multiple active events on one voice channel")

type Storage struct {
	ds *datastore.DataStore
}

func New(filePath string) (*Storage, error) {
	ds, err := datastore.New(filePath)
	if err != nil {
		return nil, err
	}
	return &Storage{ds: ds}, nil
}

// NewWithConfig opens a Storage over a datastore with custom settings.
func NewWithConfig(cfg *datastore.Config) (*Storage, error) {
	ds, err := datastore.NewWithConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Storage{ds: ds}, nil
}

func (s *Storage) Close() error {
	return s.ds.Close()
}

// Flush forces a save of the underlying store to disk.
func (s *Storage) Flush() error {
	return s.ds.SaveToFile()
}
