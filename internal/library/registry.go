package library

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"lendwatch/internal/domain"
)

// record is the per-resource unit of locking. The ledger owns loan and queue;
// res.State is recomputed by settle() after every mutation.
type record struct {
	mu    sync.Mutex
	res   Resource
	loan  *Loan
	queue []Reservation
}

func (r *record) settle() {
	switch {
	case r.loan != nil:
		r.res.State = StateLoaned
	case len(r.queue) > 0:
		r.res.State = StateReserved
	default:
		r.res.State = StateAvailable
	}
}

func (r *record) status() Status {
	st := Status{Resource: r.res, Queue: append([]Reservation{}, r.queue...)}
	if r.loan != nil {
		l := *r.loan
		st.Loan = &l
	}
	return st
}

// Registry is the resource catalog. The map lock only guards membership;
// per-resource data is guarded by each record's own mutex.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*record
}

func NewRegistry() *Registry {
	return &Registry{records: map[string]*record{}}
}

// Add inserts res in state AVAILABLE. A reused id is rejected with ErrDuplicate.
func (g *Registry) Add(res Resource) error {
	res.ID = strings.TrimSpace(res.ID)
	if res.ID == "" {
		return fmt.Errorf("resource id required: %w", domain.ErrInvalidOperation)
	}
	res.State = StateAvailable

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.records[res.ID]; ok {
		return fmt.Errorf("resource %q: %w", res.ID, domain.ErrDuplicate)
	}
	g.records[res.ID] = &record{res: res}
	return nil
}

func (g *Registry) record(id string) (*record, error) {
	g.mu.RLock()
	rec, ok := g.records[id]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrResourceNotFound, id)
	}
	return rec, nil
}

// snapshotRecords returns the records ordered by id.
func (g *Registry) snapshotRecords() []*record {
	g.mu.RLock()
	recs := make([]*record, 0, len(g.records))
	for _, rec := range g.records {
		recs = append(recs, rec)
	}
	g.mu.RUnlock()
	sort.Slice(recs, func(i, j int) bool { return recs[i].res.ID < recs[j].res.ID })
	return recs
}

func (g *Registry) Get(id string) (Resource, error) {
	rec, err := g.record(id)
	if err != nil {
		return Resource{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.res, nil
}

func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.records)
}

// List returns a snapshot of every resource ordered by id.
func (g *Registry) List() []Resource {
	return g.collect(func(Resource) bool { return true })
}

// SearchByTitle matches a case-insensitive substring of the title.
func (g *Registry) SearchByTitle(q string) []Resource {
	q = strings.ToLower(q)
	return g.collect(func(r Resource) bool {
		return strings.Contains(strings.ToLower(r.Title), q)
	})
}

func (g *Registry) FilterByCategory(c Category) []Resource {
	return g.collect(func(r Resource) bool { return r.Category == c })
}

// SortedByTitle orders by title, then id.
func (g *Registry) SortedByTitle() []Resource {
	out := g.List()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

// SortedByCategory orders by category name, then id.
func (g *Registry) SortedByCategory() []Resource {
	out := g.List()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

func (g *Registry) collect(keep func(Resource) bool) []Resource {
	recs := g.snapshotRecords()
	out := make([]Resource, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		r := rec.res
		rec.mu.Unlock()
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// Stats counts resources per state and category, plus pending reservations.
type Stats struct {
	ByState      map[State]int
	ByCategory   map[Category]int
	Reservations int
}

func (g *Registry) Stats() Stats {
	st := Stats{ByState: map[State]int{}, ByCategory: map[Category]int{}}
	for _, rec := range g.snapshotRecords() {
		rec.mu.Lock()
		st.ByState[rec.res.State]++
		st.ByCategory[rec.res.Category]++
		st.Reservations += len(rec.queue)
		rec.mu.Unlock()
	}
	return st
}
