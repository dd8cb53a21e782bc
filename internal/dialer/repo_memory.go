package dialer

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a simple in-memory store for tests and early development.
// It implements every store contract of this package.
type MemoryStore struct {
	mu sync.Mutex

	Campaigns    map[string]Campaign
	Gateways     map[string]Gateway
	Subscribers  map[string]Subscriber
	CallRequests map[string]CallRequest
	CallEvents   map[string]CallEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Campaigns:    map[string]Campaign{},
		Gateways:     map[string]Gateway{},
		Subscribers:  map[string]Subscriber{},
		CallRequests: map[string]CallRequest{},
		CallEvents:   map[string]CallEvent{},
	}
}

func (m *MemoryStore) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Campaigns[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) GetGateway(ctx context.Context, id string) (Gateway, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.Gateways[id]
	if !ok {
		return Gateway{}, ErrNotFound
	}
	return g, nil
}

func (m *MemoryStore) GetSubscriber(ctx context.Context, id string) (Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Subscribers[id]
	if !ok {
		return Subscriber{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) UpdateSubscriber(ctx context.Context, id string, fn func(*Subscriber)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Subscribers[id]
	if !ok {
		return ErrNotFound
	}
	fn(&s)
	m.Subscribers[id] = s
	return nil
}

func (m *MemoryStore) CreateCallRequest(ctx context.Context, cr *CallRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cr.CreatedAt.IsZero() {
		cr.CreatedAt = time.Now().UTC()
	}
	cr.UpdatedAt = cr.CreatedAt
	m.CallRequests[cr.ID] = *cr
	return nil
}

func (m *MemoryStore) GetCallRequest(ctx context.Context, id string) (CallRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cr, ok := m.CallRequests[id]
	if !ok {
		return CallRequest{}, ErrNotFound
	}
	return cr, nil
}

func (m *MemoryStore) GetCallRequestByUUID(ctx context.Context, requestUUID string) (CallRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cr := range m.CallRequests {
		if cr.RequestUUID == requestUUID {
			return cr, nil
		}
	}
	return CallRequest{}, ErrNotFound
}

func (m *MemoryStore) UpdateCallRequest(ctx context.Context, id string, fn func(*CallRequest)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cr, ok := m.CallRequests[id]
	if !ok {
		return ErrNotFound
	}
	fn(&cr)
	cr.UpdatedAt = time.Now().UTC()
	m.CallRequests[id] = cr
	return nil
}

func (m *MemoryStore) ClaimOverduePending(ctx context.Context, cutoff time.Time, limit int) ([]CallRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CallRequest, 0)
	for id, cr := range m.CallRequests {
		if len(out) >= limit {
			break
		}
		if cr.Status != CallRequestPending || cr.ScheduledAt.After(cutoff) {
			continue
		}
		cr.Status = CallRequestInProcess
		cr.UpdatedAt = time.Now().UTC()
		m.CallRequests[id] = cr
		out = append(out, cr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (m *MemoryStore) InsertCallEvent(ctx context.Context, ev *CallEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Status == "" {
		ev.Status = EventUnconsumed
	}
	m.CallEvents[ev.ID] = *ev
	return nil
}

func (m *MemoryStore) ClaimEvents(ctx context.Context, limit int) ([]CallEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	claimed := make([]CallEvent, 0)
	for _, ev := range m.CallEvents {
		if ev.Status == EventUnconsumed {
			claimed = append(claimed, ev)
		}
	}
	sort.Slice(claimed, func(i, j int) bool { return claimed[i].CreatedAt.Before(claimed[j].CreatedAt) })
	if len(claimed) > limit {
		claimed = claimed[:limit]
	}
	for i := range claimed {
		claimed[i].Status = EventConsumed
		m.CallEvents[claimed[i].ID] = claimed[i]
	}
	return claimed, nil
}
