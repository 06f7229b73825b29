// Package memstore provides an in-memory [store.Store] for tests and
// single-process development. All state is lost on restart.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/KremlinV1/11Wire-sub002/internal/store"
)

// Store is a mutex-guarded in-memory implementation of store.Store.
type Store struct {
	mu         sync.RWMutex
	calls      map[string]*store.CallRow       // by call SID
	queue      map[string]*store.QueueEntry    // by entry id
	campaigns  map[string]*store.Campaign      // by campaign id
	contacts   map[string]*store.Contact       // by contact id
	recordings map[string]*store.CallRecording // by recording SID
}

var _ store.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		calls:      make(map[string]*store.CallRow),
		queue:      make(map[string]*store.QueueEntry),
		campaigns:  make(map[string]*store.Campaign),
		contacts:   make(map[string]*store.Contact),
		recordings: make(map[string]*store.CallRecording),
	}
}

// SeedCampaign inserts a campaign. Test and dev setup helper; campaigns are
// read-only to the dialer core.
func (s *Store) SeedCampaign(c *store.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.campaigns[c.ID] = &cp
}

// SeedContact inserts a contact. Test and dev setup helper.
func (s *Store) SeedContact(c *store.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.contacts[c.ID] = &cp
}

// --- Calls ---

func (s *Store) CreateCall(_ context.Context, row *store.CallRow) error {
	if row.CallSID == "" {
		return fmt.Errorf("memstore: call row needs a call SID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.calls[row.CallSID]; exists {
		return fmt.Errorf("memstore: call %q already exists", row.CallSID)
	}
	s.calls[row.CallSID] = copyCall(row)
	return nil
}

func (s *Store) UpdateCallBySID(_ context.Context, callSID string, patch store.CallPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.calls[callSID]
	if !ok {
		return store.ErrNotFound
	}
	applyCallPatch(row, patch)
	return nil
}

func (s *Store) FindCallBySID(_ context.Context, callSID string) (*store.CallRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.calls[callSID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyCall(row), nil
}

// --- Queue ---

func (s *Store) CreateQueueEntry(_ context.Context, entry *store.QueueEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("memstore: queue entry needs an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.queue[entry.ID]; exists {
		return fmt.Errorf("memstore: queue entry %q already exists", entry.ID)
	}
	s.queue[entry.ID] = copyEntry(entry)
	return nil
}

func (s *Store) UpdateQueueEntry(_ context.Context, id string, patch store.QueuePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.queue[id]
	if !ok {
		return store.ErrNotFound
	}
	applyQueuePatch(entry, patch)
	return nil
}

func (s *Store) ClaimForDispatch(_ context.Context, id string, now time.Time) (*store.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.queue[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if entry.Status != store.QueueScheduled && entry.Status != store.QueueRetry {
		return nil, store.ErrNotClaimable
	}
	if entry.Attempts >= entry.MaxAttempts {
		return nil, store.ErrNotClaimable
	}
	entry.Status = store.QueueInProgress
	entry.Attempts++
	t := now
	entry.StartTime = &t
	entry.LastAttemptTime = &t
	return copyEntry(entry), nil
}

func (s *Store) FindQueueEntries(_ context.Context, filter store.Filter, limit int) ([]*store.QueueEntry, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*store.QueueEntry
	for _, e := range s.queue {
		if matches(e, filter) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].ScheduledTime.Before(matched[j].ScheduledTime)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*store.QueueEntry, len(matched))
	for i, e := range matched {
		out[i] = copyEntry(e)
	}
	return out, nil
}

func (s *Store) CountQueueEntries(_ context.Context, filter store.Filter) (int, error) {
	if err := filter.Validate(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.queue {
		if matches(e, filter) {
			n++
		}
	}
	return n, nil
}

func (s *Store) FindQueueEntryByCallSID(_ context.Context, callSID string) (*store.QueueEntry, error) {
	if callSID == "" {
		return nil, store.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.queue {
		if e.CallSID == callSID {
			return copyEntry(e), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) Aggregate(_ context.Context, campaignID, field string, op store.AggregateOp) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var vals []float64
	for _, e := range s.queue {
		if e.CampaignID != campaignID {
			continue
		}
		if op == store.AggCount {
			vals = append(vals, 1)
			continue
		}
		v, ok := numericField(e, field)
		if !ok {
			return 0, fmt.Errorf("memstore: field %q is not numeric", field)
		}
		vals = append(vals, v)
	}

	switch op {
	case store.AggCount:
		return float64(len(vals)), nil
	case store.AggSum, store.AggAvg:
		var sum float64
		for _, v := range vals {
			sum += v
		}
		if op == store.AggSum {
			return sum, nil
		}
		if len(vals) == 0 {
			return 0, nil
		}
		return sum / float64(len(vals)), nil
	case store.AggMin, store.AggMax:
		if len(vals) == 0 {
			return 0, nil
		}
		best := vals[0]
		for _, v := range vals[1:] {
			if (op == store.AggMin && v < best) || (op == store.AggMax && v > best) {
				best = v
			}
		}
		return best, nil
	default:
		return 0, fmt.Errorf("memstore: unknown aggregate op %q", op)
	}
}

// --- Campaigns and contacts ---

func (s *Store) GetCampaign(_ context.Context, id string) (*store.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListActiveCampaigns(_ context.Context) ([]*store.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.Campaign
	for _, c := range s.campaigns {
		if c.Status == store.CampaignActive {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetContacts(_ context.Context, ids []string) ([]*store.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.Contact, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.contacts[id]; ok {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Recordings ---

func (s *Store) CreateRecording(_ context.Context, rec *store.CallRecording) error {
	if rec.RecordingSID == "" {
		return fmt.Errorf("memstore: recording needs a recording SID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.recordings[rec.RecordingSID] = &cp
	return nil
}

func (s *Store) UpdateRecording(_ context.Context, recordingSID string, patch store.RecordingPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recordings[recordingSID]
	if !ok {
		return store.ErrNotFound
	}
	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.EndTime != nil {
		rec.EndTime = patch.EndTime
	}
	if patch.Duration != nil {
		rec.Duration = *patch.Duration
	}
	if patch.URL != nil {
		rec.URL = *patch.URL
	}
	return nil
}

// FindRecording returns a recording by SID. Test helper.
func (s *Store) FindRecording(recordingSID string) (*store.CallRecording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recordings[recordingSID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}
