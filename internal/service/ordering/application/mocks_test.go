package application

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"eshop-ordering/internal/service/ordering/domain"
)

type fakeStore struct {
	mu           sync.Mutex
	data         map[string]map[string][]byte
	statusWrites int
	setManyErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]map[string][]byte)}
}

func (f *fakeStore) Get(ctx context.Context, orderID, key string) ([]byte, error) {
	v, ok, err := f.TryGet(ctx, orderID, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "%s/%s", orderID, key)
	}
	return v, nil
}

func (f *fakeStore) TryGet(_ context.Context, orderID, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[orderID][key]
	return v, ok, nil
}

func (f *fakeStore) Set(ctx context.Context, orderID, key string, value []byte) error {
	return f.SetMany(ctx, orderID, map[string][]byte{key: value})
}

func (f *fakeStore) SetMany(_ context.Context, orderID string, values map[string][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setManyErr != nil {
		return f.setManyErr
	}
	if f.data[orderID] == nil {
		f.data[orderID] = make(map[string][]byte)
	}
	for k, v := range values {
		f.data[orderID][k] = v
		if k == KeyOrderStatus {
			f.statusWrites++
		}
	}
	return nil
}

func (f *fakeStore) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusWrites
}

type registered struct {
	orderID  string
	reminder domain.Reminder
}

type fakeScheduler struct {
	mu        sync.Mutex
	reminders []registered
	err       error
}

func (f *fakeScheduler) RegisterReminder(_ context.Context, orderID string, r domain.Reminder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.reminders = append(f.reminders, registered{orderID: orderID, reminder: r})
	return nil
}

func (f *fakeScheduler) UnregisterReminder(_ context.Context, orderID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.reminders[:0]
	for _, r := range f.reminders {
		if r.orderID != orderID || r.reminder.Name != name {
			kept = append(kept, r)
		}
	}
	f.reminders = kept
	return nil
}

func (f *fakeScheduler) named(orderID, name string) []domain.Reminder {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Reminder
	for _, r := range f.reminders {
		if r.orderID == orderID && r.reminder.Name == name {
			out = append(out, r.reminder)
		}
	}
	return out
}

type fakePublisher struct {
	mu       sync.Mutex
	events   []domain.IntegrationEvent
	failures int
}

func (f *fakePublisher) Publish(_ context.Context, event domain.IntegrationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("broker unavailable")
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.events))
	for _, e := range f.events {
		names = append(names, e.EventName())
	}
	return names
}

func (f *fakePublisher) last() domain.IntegrationEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return nil
	}
	return f.events[len(f.events)-1]
}
