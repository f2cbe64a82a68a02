package svchost

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"

	"github.com/google/renameio/v2"
)

// Persister is the external persistence collaborator backing a Store.
// SaveAll rewrites the full collection, so implementations must serialize
// concurrent writers.
type Persister interface {
	LoadAll() ([]*ServiceRecord, error)
	SaveAll(records []*ServiceRecord) error
	LoadByID(id string) (*ServiceRecord, error)
}

// FilePersister stores the record collection as a JSON array in a single
// file, rewritten atomically on every save.
type FilePersister struct {
	// Path is the store file location
	Path string

	// mu enforces the single-writer discipline across SaveAll calls
	mu sync.Mutex
}

// NewFilePersister creates a FilePersister for the given file
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{Path: path}
}

// LoadAll reads the full collection. A missing file is an empty collection,
// not an error.
func (p *FilePersister) LoadAll() ([]*ServiceRecord, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading store file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var records []*ServiceRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decoding store file: %w", err)
	}
	return records, nil
}

// SaveAll atomically rewrites the full collection
func (p *FilePersister) SaveAll(records []*ServiceRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding store file: %w", err)
	}
	if err := renameio.WriteFile(p.Path, data, FileMode); err != nil {
		return fmt.Errorf("writing store file: %w", err)
	}
	return nil
}

// LoadByID reads a single record by id
func (p *FilePersister) LoadByID(id string) (*ServiceRecord, error) {
	records, err := p.LoadAll()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, &OpError{Op: OpStatus, Service: id, Err: ErrNotFound}
}

// Store is the in-memory authoritative collection of service records. It is
// mutated from caller goroutines and from both monitors concurrently, so
// every access goes through its lock. All values handed out are clones.
type Store struct {
	mu        sync.RWMutex
	records   map[string]*ServiceRecord
	persister Persister
}

// NewStore creates a Store backed by the given persister and loads the
// persisted collection into memory.
func NewStore(persister Persister) (*Store, error) {
	s := &Store{
		records:   make(map[string]*ServiceRecord),
		persister: persister,
	}
	if persister != nil {
		records, err := persister.LoadAll()
		if err != nil {
			return nil, fmt.Errorf("loading records: %w", err)
		}
		for _, r := range records {
			s.records[r.ID] = r.Clone()
		}
	}
	return s, nil
}

// Get returns a clone of the record with the given id
func (s *Store) Get(id string) (*ServiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, &OpError{Op: OpStatus, Service: id, Err: ErrNotFound}
	}
	return rec.Clone(), nil
}

// Put inserts or replaces a record
func (s *Store) Put(rec *ServiceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec.Clone()
}

// Delete removes a record. Deleting an unknown id is a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

// All returns clones of every record, sorted by id for stable iteration
func (s *Store) All() []*ServiceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ServiceRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns every known service id, sorted
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of records
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// SetStatus updates the status of one record and bumps its UpdatedAt.
// It reports whether the status actually changed.
func (s *Store) SetStatus(id string, status ServiceStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false, &OpError{Op: OpStatus, Service: id, Err: ErrNotFound}
	}
	if rec.Status == status {
		return false, nil
	}
	rec.Status = status
	rec.Touch()
	return true, nil
}

// Flush writes the current collection through the persister
func (s *Store) Flush() error {
	if s.persister == nil {
		return nil
	}
	return s.persister.SaveAll(s.All())
}

// Replace swaps the in-memory collection for the given records. Used by the
// store watcher after an external rewrite of the store file.
func (s *Store) Replace(records []*ServiceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*ServiceRecord, len(records))
	for _, r := range records {
		s.records[r.ID] = r.Clone()
	}
}
