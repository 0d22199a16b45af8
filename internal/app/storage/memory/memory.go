// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development. Referential integrity is not enforced.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/R3E-Network/ajax_layer/internal/app/auth"
	"github.com/R3E-Network/ajax_layer/internal/app/model"
	"github.com/R3E-Network/ajax_layer/internal/app/storage"
	"github.com/R3E-Network/ajax_layer/internal/app/tags"
)

// Store keeps rows per table keyed by pk.
type Store struct {
	mu sync.RWMutex

	nextPK map[string]int64
	rows   map[string]map[int64]map[string]any

	nextTagID int64
	tagsByID  map[int64]storage.Tag
	tagIDs    map[string]int64
	tagged    map[string]map[int64]map[int64]struct{} // table -> pk -> tag ids

	nextUserID    int64
	users         map[int64]auth.User
	usersByName   map[string]int64
	apiKeys       map[int64]auth.APIKey
	apiKeyIndexes map[string]int64
}

var _ storage.RecordStore = (*Store)(nil)
var _ storage.TagStore = (*Store)(nil)
var _ auth.UserStore = (*Store)(nil)
var _ auth.KeyStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextPK:        make(map[string]int64),
		rows:          make(map[string]map[int64]map[string]any),
		tagsByID:      make(map[int64]storage.Tag),
		tagIDs:        make(map[string]int64),
		tagged:        make(map[string]map[int64]map[int64]struct{}),
		users:         make(map[int64]auth.User),
		usersByName:   make(map[string]int64),
		apiKeys:       make(map[int64]auth.APIKey),
		apiKeyIndexes: make(map[string]int64),
	}
}

// RecordStore implementation --------------------------------------------------

func (s *Store) Insert(_ context.Context, rec *model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := rec.Model.Table
	if s.rows[table] == nil {
		s.rows[table] = make(map[int64]map[string]any)
	}
	if rec.PK == 0 {
		s.nextPK[table]++
		rec.PK = s.nextPK[table]
	} else if _, exists := s.rows[table][rec.PK]; exists {
		return fmt.Errorf("%s %d already exists", rec.Model.Name, rec.PK)
	} else if rec.PK > s.nextPK[table] {
		s.nextPK[table] = rec.PK
	}
	s.rows[table][rec.PK] = cloneValues(rec.Model, rec.Values)
	return nil
}

func (s *Store) Update(_ context.Context, rec *model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := rec.Model.Table
	if _, ok := s.rows[table][rec.PK]; !ok {
		return fmt.Errorf("%s %d: %w", rec.Model.Name, rec.PK, storage.ErrNotFound)
	}
	s.rows[table][rec.PK] = cloneValues(rec.Model, rec.Values)
	return nil
}

func (s *Store) Get(_ context.Context, m *model.Model, pk int64) (*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values, ok := s.rows[m.Table][pk]
	if !ok {
		return nil, fmt.Errorf("%s %d: %w", m.Name, pk, storage.ErrNotFound)
	}
	return &model.Record{Model: m, PK: pk, Values: cloneValues(m, values)}, nil
}

func (s *Store) Delete(_ context.Context, m *model.Model, pk int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[m.Table][pk]; !ok {
		return fmt.Errorf("%s %d: %w", m.Name, pk, storage.ErrNotFound)
	}
	delete(s.rows[m.Table], pk)
	delete(s.tagged[m.Table], pk)
	return nil
}

func (s *Store) Count(_ context.Context, q storage.Query) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matchLocked(q)), nil
}

func (s *Store) List(_ context.Context, q storage.Query) ([]*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pks := s.matchLocked(q)
	if q.Offset > 0 {
		if q.Offset >= len(pks) {
			pks = nil
		} else {
			pks = pks[q.Offset:]
		}
	}
	if q.Limit > 0 && len(pks) > q.Limit {
		pks = pks[:q.Limit]
	}

	out := make([]*model.Record, 0, len(pks))
	for _, pk := range pks {
		out = append(out, &model.Record{Model: q.Model, PK: pk, Values: cloneValues(q.Model, s.rows[q.Model.Table][pk])})
	}
	return out, nil
}

// matchLocked returns the sorted pks matching q's filters.
func (s *Store) matchLocked(q storage.Query) []int64 {
	if q.None || q.Model == nil {
		return nil
	}
	var pks []int64
	for pk, values := range s.rows[q.Model.Table] {
		if matches(pk, values, q.Filters) {
			pks = append(pks, pk)
		}
	}
	sort.Slice(pks, func(i, j int) bool { return pks[i] < pks[j] })
	return pks
}

func matches(pk int64, values map[string]any, filters []storage.Filter) bool {
	for _, f := range filters {
		var got any
		if f.Field == model.PKName {
			got = pk
		} else {
			got = values[f.Field]
		}
		if got != f.Value {
			return false
		}
	}
	return true
}

func cloneValues(m *model.Model, values map[string]any) map[string]any {
	out := make(map[string]any, len(m.Fields))
	for _, f := range m.Concrete() {
		out[f.Name] = values[f.Name]
	}
	return out
}

// TagStore implementation -----------------------------------------------------

func (s *Store) Tags(_ context.Context, m *model.Model, pk int64) ([]storage.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tagsLocked(m.Table, pk), nil
}

func (s *Store) tagsLocked(table string, pk int64) []storage.Tag {
	out := make([]storage.Tag, 0, len(s.tagged[table][pk]))
	for id := range s.tagged[table][pk] {
		out = append(out, s.tagsByID[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) SetTags(ctx context.Context, m *model.Model, pk int64, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked(m.Table, pk)
	s.addLocked(m.Table, pk, names)
	return nil
}

func (s *Store) AddTags(_ context.Context, m *model.Model, pk int64, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(m.Table, pk, names)
	return nil
}

func (s *Store) RemoveTags(_ context.Context, m *model.Model, pk int64, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if id, ok := s.tagIDs[name]; ok {
			delete(s.tagged[m.Table][pk], id)
		}
	}
	return nil
}

func (s *Store) ClearTags(_ context.Context, m *model.Model, pk int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked(m.Table, pk)
	return nil
}

func (s *Store) SimilarObjects(_ context.Context, m *model.Model, pk int64) ([]*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mine := s.tagged[m.Table][pk]
	shared := make(map[int64]int)
	for other, ids := range s.tagged[m.Table] {
		if other == pk {
			continue
		}
		for id := range ids {
			if _, ok := mine[id]; ok {
				shared[other]++
			}
		}
	}

	pks := make([]int64, 0, len(shared))
	for other := range shared {
		if _, exists := s.rows[m.Table][other]; exists {
			pks = append(pks, other)
		}
	}
	sort.Slice(pks, func(i, j int) bool {
		if shared[pks[i]] != shared[pks[j]] {
			return shared[pks[i]] > shared[pks[j]]
		}
		return pks[i] < pks[j]
	})

	out := make([]*model.Record, 0, len(pks))
	for _, other := range pks {
		out = append(out, &model.Record{Model: m, PK: other, Values: cloneValues(m, s.rows[m.Table][other])})
	}
	return out, nil
}

func (s *Store) addLocked(table string, pk int64, names []string) {
	if s.tagged[table] == nil {
		s.tagged[table] = make(map[int64]map[int64]struct{})
	}
	if s.tagged[table][pk] == nil {
		s.tagged[table][pk] = make(map[int64]struct{})
	}
	for _, name := range names {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		id, ok := s.tagIDs[name]
		if !ok {
			s.nextTagID++
			id = s.nextTagID
			s.tagIDs[name] = id
			s.tagsByID[id] = storage.Tag{ID: id, Name: name, Slug: tags.Slugify(name)}
		}
		s.tagged[table][pk][id] = struct{}{}
	}
}

func (s *Store) clearLocked(table string, pk int64) {
	if s.tagged[table] != nil {
		delete(s.tagged[table], pk)
	}
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u auth.User) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.Username = strings.TrimSpace(u.Username)
	if u.Username == "" {
		return auth.User{}, fmt.Errorf("username is required")
	}
	if _, exists := s.usersByName[u.Username]; exists {
		return auth.User{}, fmt.Errorf("user %s already exists", u.Username)
	}
	s.nextUserID++
	u.ID = s.nextUserID
	s.users[u.ID] = u
	s.usersByName[u.Username] = u.ID
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id int64) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return auth.User{}, fmt.Errorf("user %d: %w", id, storage.ErrNotFound)
	}
	return u, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByName[username]
	if !ok {
		return auth.User{}, fmt.Errorf("user %s: %w", username, storage.ErrNotFound)
	}
	return s.users[id], nil
}

// KeyStore implementation -----------------------------------------------------

func (s *Store) GetAPIKey(_ context.Context, userID int64) (auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.apiKeys[userID]
	if !ok {
		return auth.APIKey{}, fmt.Errorf("api key for user %d: %w", userID, storage.ErrNotFound)
	}
	return key, nil
}

func (s *Store) SaveAPIKey(_ context.Context, key auth.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, taken := s.apiKeyIndexes[key.Key]; taken && owner != key.UserID {
		return fmt.Errorf("api key already in use")
	}
	if previous, ok := s.apiKeys[key.UserID]; ok {
		delete(s.apiKeyIndexes, previous.Key)
	}
	s.apiKeys[key.UserID] = key
	s.apiKeyIndexes[key.Key] = key.UserID
	return nil
}

func (s *Store) APIKeyExists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.apiKeyIndexes[key]
	return ok, nil
}
