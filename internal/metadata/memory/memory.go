// Package memory provides an in-process metadata store. It backs the server
// when no DATABASE_URL is configured and the engine tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/contractvault/contractvault/internal/contract"
)

// Store is a mutex-guarded contract.Store.
type Store struct {
	mu sync.RWMutex

	nextContractID int64
	nextVersionID  int64

	contracts map[int64]*contract.Contract
	numbers   map[string]int64
	versions  map[int64][]*contract.Version // by contract, number order
	contents  map[int64]*contract.Content   // by version ID
	hashKeys  map[string]int64              // hash key -> version ID
}

// New creates an empty store.
func New() *Store {
	return &Store{
		contracts: make(map[int64]*contract.Contract),
		numbers:   make(map[string]int64),
		versions:  make(map[int64][]*contract.Version),
		contents:  make(map[int64]*contract.Content),
		hashKeys:  make(map[string]int64),
	}
}

var _ contract.Store = (*Store)(nil)

// CreateContract implements contract.Store.
func (s *Store) CreateContract(_ context.Context, c *contract.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.numbers[c.Number]; ok {
		return fmt.Errorf("%w: %s", contract.ErrDuplicateNumber, c.Number)
	}
	s.nextContractID++
	now := time.Now().UTC()
	c.ID = s.nextContractID
	c.CreatedAt = now
	c.UpdatedAt = now
	c.VersionSeq = 0

	cp := *c
	s.contracts[c.ID] = &cp
	s.numbers[c.Number] = c.ID
	return nil
}

// GetContract implements contract.Store.
func (s *Store) GetContract(_ context.Context, id int64) (*contract.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contracts[id]
	if !ok {
		return nil, contract.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// GetContractByNumber implements contract.Store.
func (s *Store) GetContractByNumber(ctx context.Context, number string) (*contract.Contract, error) {
	s.mu.RLock()
	id, ok := s.numbers[number]
	s.mu.RUnlock()
	if !ok {
		return nil, contract.ErrNotFound
	}
	return s.GetContract(ctx, id)
}

// UpdateContract implements contract.Store. Number, creator, creation time
// and the version counter are not editable.
func (s *Store) UpdateContract(_ context.Context, c *contract.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.contracts[c.ID]
	if !ok {
		return contract.ErrNotFound
	}
	cur.Name = c.Name
	cur.PartyAID = c.PartyAID
	cur.PartyBID = c.PartyBID
	cur.Amount = c.Amount
	cur.StartDate = c.StartDate
	cur.EndDate = c.EndDate
	cur.Category = c.Category
	cur.Department = c.Department
	cur.Remark = c.Remark
	cur.Status = c.Status
	cur.UpdatedAt = time.Now().UTC()
	c.UpdatedAt = cur.UpdatedAt
	return nil
}

// ListContracts implements contract.Store.
func (s *Store) ListContracts(_ context.Context, f contract.ListFilter) ([]*contract.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*contract.Contract{}
	for _, c := range s.contracts {
		if !matches(c, f) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []*contract.Contract{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(c *contract.Contract, f contract.ListFilter) bool {
	if f.Keyword != "" && !strings.Contains(c.Name, f.Keyword) && !strings.Contains(c.Number, f.Keyword) {
		return false
	}
	if f.Status != nil && c.Status != *f.Status {
		return false
	}
	if f.CreatorID != "" && c.CreatorID != f.CreatorID {
		return false
	}
	if f.PartyID != 0 && c.PartyAID != f.PartyID && c.PartyBID != f.PartyID {
		return false
	}
	if f.Category != "" && c.Category != f.Category {
		return false
	}
	if f.Department != "" && c.Department != f.Department {
		return false
	}
	return true
}

// HashExists implements contract.Store.
func (s *Store) HashExists(_ context.Context, hashKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.hashKeys[hashKey]
	return ok, nil
}

// InsertVersion implements contract.Store. The write lock makes counter
// advance, hash check and both inserts one atomic step.
func (s *Store) InsertVersion(_ context.Context, v *contract.Version, content *contract.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contracts[v.ContractID]
	if !ok {
		return contract.ErrNotFound
	}
	if _, dup := s.hashKeys[v.HashKey]; dup {
		return fmt.Errorf("%w: hash %s", contract.ErrDuplicateContent, v.ContentHash)
	}

	c.VersionSeq++
	s.nextVersionID++
	v.ID = s.nextVersionID
	v.Number = c.VersionSeq

	content.VersionID = v.ID
	content.ContractID = v.ContractID

	vc := *v
	cc := *content
	s.versions[v.ContractID] = append(s.versions[v.ContractID], &vc)
	s.contents[v.ID] = &cc
	s.hashKeys[v.HashKey] = v.ID
	return nil
}

// GetVersion implements contract.Store.
func (s *Store) GetVersion(_ context.Context, contractID int64, number int) (*contract.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.versions[contractID] {
		if v.Number == number {
			cp := *v
			return &cp, nil
		}
	}
	return nil, contract.ErrNotFound
}

// GetLatestVersion implements contract.Store.
func (s *Store) GetLatestVersion(_ context.Context, contractID int64) (*contract.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vs := s.versions[contractID]
	if len(vs) == 0 {
		return nil, contract.ErrNotFound
	}
	cp := *vs[len(vs)-1]
	return &cp, nil
}

// ListVersions implements contract.Store.
func (s *Store) ListVersions(_ context.Context, contractID int64) ([]*contract.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*contract.Version, 0, len(s.versions[contractID]))
	for _, v := range s.versions[contractID] {
		cp := *v
		out = append(out, &cp)
	}
	return out, nil
}

// GetContent implements contract.Store.
func (s *Store) GetContent(_ context.Context, contractID, versionID int64) (*contract.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contents[versionID]
	if !ok || c.ContractID != contractID {
		return nil, contract.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// DeleteContract implements contract.Store.
func (s *Store) DeleteContract(_ context.Context, id int64) ([]*contract.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contracts[id]
	if !ok {
		return nil, contract.ErrNotFound
	}

	removed := s.versions[id]
	for _, v := range removed {
		delete(s.contents, v.ID)
		delete(s.hashKeys, v.HashKey)
	}
	delete(s.versions, id)
	delete(s.numbers, c.Number)
	delete(s.contracts, id)

	if removed == nil {
		removed = []*contract.Version{}
	}
	return removed, nil
}

// LiveLocations implements contract.Store.
func (s *Store) LiveLocations(_ context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]struct{})
	for _, vs := range s.versions {
		for _, v := range vs {
			out[v.Location] = struct{}{}
		}
	}
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
