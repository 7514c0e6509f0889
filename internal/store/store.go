package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bbernstein/bicyclette/backend-go/internal/models"
)

// ErrTxClosed is returned when a transaction is used after Save or Rollback.
var ErrTxClosed = errors.New("transaction already closed")

// Graph is the persisted object graph: stations keyed by number plus the
// regions computed during the last commit.
type Graph struct {
	Stations map[string]models.Station `json:"stations"`
	Regions  []models.Region           `json:"regions"`
}

func NewGraph() *Graph {
	return &Graph{Stations: make(map[string]models.Station)}
}

// SortedStations returns the stations ordered by number.
func (g *Graph) SortedStations() []models.Station {
	stations := make([]models.Station, 0, len(g.Stations))
	for _, s := range g.Stations {
		stations = append(stations, s)
	}
	sort.Slice(stations, func(i, j int) bool {
		return stations[i].Number < stations[j].Number
	})
	return stations
}

func (g *Graph) clone() *Graph {
	c := &Graph{
		Stations: make(map[string]models.Station, len(g.Stations)),
		Regions:  cloneRegions(g.Regions),
	}
	for number, s := range g.Stations {
		c.Stations[number] = s
	}
	return c
}

func cloneRegions(regions []models.Region) []models.Region {
	if regions == nil {
		return nil
	}
	out := make([]models.Region, len(regions))
	for i, r := range regions {
		r.StationNumbers = append([]string(nil), r.StationNumbers...)
		out[i] = r
	}
	return out
}

// Store is the persistent object store. Readers use Load; the single writer
// groups its mutations in a Tx so readers never observe a half-applied batch.
type Store interface {
	Load(ctx context.Context) (*Graph, error)
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a batch of mutations over a private copy of the committed graph.
type Tx interface {
	Find(number string) (models.Station, bool)
	Stations() []models.Station
	Create(s models.Station) error
	Update(s models.Station) error
	Delete(number string) error
	SetRegions(regions []models.Region) error
	// Save commits every mutation at once. On error nothing is committed.
	Save(ctx context.Context) error
	// Rollback discards the transaction. It is a no-op after Save.
	Rollback()
}

// changeset records which entities a transaction touched
type changeset struct {
	created map[string]struct{}
	updated map[string]struct{}
	deleted map[string]struct{}
	regions bool
}

func newChangeset() *changeset {
	return &changeset{
		created: make(map[string]struct{}),
		updated: make(map[string]struct{}),
		deleted: make(map[string]struct{}),
	}
}

func (c *changeset) empty() bool {
	return len(c.created) == 0 && len(c.updated) == 0 && len(c.deleted) == 0 && !c.regions
}

// backend persists committed graphs. load is called once, the first time the
// store is used.
type backend interface {
	load(ctx context.Context) (*Graph, error)
	commit(ctx context.Context, g *Graph, c *changeset) error
}

// GraphStore implements Store on top of a backend, keeping the last committed
// graph in memory for readers.
type GraphStore struct {
	backend backend

	writer sync.Mutex // held for the lifetime of a Tx

	mu        sync.RWMutex
	committed *Graph
}

var _ Store = (*GraphStore)(nil)

func newGraphStore(b backend) *GraphStore {
	return &GraphStore{backend: b}
}

func (s *GraphStore) current(ctx context.Context) (*Graph, error) {
	s.mu.RLock()
	g := s.committed
	s.mu.RUnlock()
	if g != nil {
		return g, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed != nil {
		return s.committed, nil
	}
	loaded, err := s.loadBackend(ctx)
	if err != nil {
		return nil, err
	}
	s.committed = loaded
	return loaded, nil
}

func (s *GraphStore) loadBackend(ctx context.Context) (*Graph, error) {
	loaded, err := s.backend.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading graph: %w", err)
	}
	if loaded == nil {
		loaded = NewGraph()
	}
	if loaded.Stations == nil {
		loaded.Stations = make(map[string]models.Station)
	}
	return loaded, nil
}

// Refresh re-reads the graph from the backend, picking up commits made by
// other processes. It waits for any open transaction to finish.
func (s *GraphStore) Refresh(ctx context.Context) error {
	// nothing outside the process can write to a memory store
	if _, ok := s.backend.(memoryBackend); ok {
		return nil
	}

	s.writer.Lock()
	defer s.writer.Unlock()

	loaded, err := s.loadBackend(ctx)
	if err != nil {
		return err
	}
	s.publish(loaded)
	return nil
}

// Load returns a copy of the last committed graph.
func (s *GraphStore) Load(ctx context.Context) (*Graph, error) {
	g, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return g.clone(), nil
}

// Begin starts the store's only write transaction. It blocks while another
// transaction is open.
func (s *GraphStore) Begin(ctx context.Context) (Tx, error) {
	s.writer.Lock()
	g, err := s.current(ctx)
	if err != nil {
		s.writer.Unlock()
		return nil, err
	}
	return &tx{store: s, working: g.clone(), changes: newChangeset()}, nil
}

func (s *GraphStore) publish(g *Graph) {
	s.mu.Lock()
	s.committed = g
	s.mu.Unlock()
}

type tx struct {
	store   *GraphStore
	working *Graph
	changes *changeset
	closed  bool
}

func (t *tx) Find(number string) (models.Station, bool) {
	s, ok := t.working.Stations[number]
	return s, ok
}

func (t *tx) Stations() []models.Station {
	return t.working.SortedStations()
}

func (t *tx) Create(s models.Station) error {
	if t.closed {
		return ErrTxClosed
	}
	if _, exists := t.working.Stations[s.Number]; exists {
		return fmt.Errorf("station %s already exists", s.Number)
	}
	if err := s.Validate(); err != nil {
		return err
	}
	t.working.Stations[s.Number] = s
	if _, wasDeleted := t.changes.deleted[s.Number]; wasDeleted {
		delete(t.changes.deleted, s.Number)
		t.changes.updated[s.Number] = struct{}{}
	} else {
		t.changes.created[s.Number] = struct{}{}
	}
	return nil
}

func (t *tx) Update(s models.Station) error {
	if t.closed {
		return ErrTxClosed
	}
	if _, exists := t.working.Stations[s.Number]; !exists {
		return fmt.Errorf("station %s does not exist", s.Number)
	}
	if err := s.Validate(); err != nil {
		return err
	}
	t.working.Stations[s.Number] = s
	if _, created := t.changes.created[s.Number]; !created {
		t.changes.updated[s.Number] = struct{}{}
	}
	return nil
}

func (t *tx) Delete(number string) error {
	if t.closed {
		return ErrTxClosed
	}
	if _, exists := t.working.Stations[number]; !exists {
		return nil
	}
	delete(t.working.Stations, number)
	delete(t.changes.updated, number)
	if _, created := t.changes.created[number]; created {
		delete(t.changes.created, number)
		return nil
	}
	t.changes.deleted[number] = struct{}{}
	return nil
}

func (t *tx) SetRegions(regions []models.Region) error {
	if t.closed {
		return ErrTxClosed
	}
	t.working.Regions = cloneRegions(regions)
	t.changes.regions = true
	return nil
}

func (t *tx) Save(ctx context.Context) error {
	if t.closed {
		return ErrTxClosed
	}
	t.closed = true
	defer t.store.writer.Unlock()

	if !t.changes.empty() {
		if err := t.store.backend.commit(ctx, t.working, t.changes); err != nil {
			return err
		}
	}
	t.store.publish(t.working)
	return nil
}

func (t *tx) Rollback() {
	if t.closed {
		return
	}
	t.closed = true
	t.store.writer.Unlock()
}

// memoryBackend keeps nothing outside the process.
type memoryBackend struct{}

func (memoryBackend) load(context.Context) (*Graph, error) {
	return NewGraph(), nil
}

func (memoryBackend) commit(context.Context, *Graph, *changeset) error {
	return nil
}

// NewMemory returns a store that lives only as long as the process.
func NewMemory() *GraphStore {
	return newGraphStore(memoryBackend{})
}
