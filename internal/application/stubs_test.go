package application

import (
	"context"
	"sort"
	"sync"
	"time"
)

type directoryStub struct {
	mu    sync.Mutex
	users map[string]User

	listErr   error
	recentErr error
	updateErr error
	staleErr  error

	recentCalls int
	updates     []User
}

func newDirectoryStub(users ...User) *directoryStub {
	d := &directoryStub{users: make(map[string]User)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *directoryStub) ListRecentUsersSince(ctx context.Context, cutoff time.Time) ([]User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recentCalls++
	if d.recentErr != nil {
		return nil, d.recentErr
	}
	var out []User
	for _, u := range d.users {
		if u.IsOnline || (u.LastLoginAt != nil && !u.LastLoginAt.Before(cutoff)) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (d *directoryStub) ListUsers(ctx context.Context) ([]User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	out := make([]User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *directoryStub) GetUser(ctx context.Context, id string) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (d *directoryStub) UpdateUser(ctx context.Context, user User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.updateErr != nil {
		return d.updateErr
	}
	if _, ok := d.users[user.ID]; !ok {
		return ErrNotFound
	}
	d.users[user.ID] = user
	d.updates = append(d.updates, user)
	return nil
}

func (d *directoryStub) MarkStaleOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.staleErr != nil {
		return 0, d.staleErr
	}
	var n int64
	for id, u := range d.users {
		if u.IsOnline && u.LastSeenAt != nil && u.LastSeenAt.Before(cutoff) {
			u.IsOnline = false
			d.users[id] = u
			n++
		}
	}
	return n, nil
}

func (d *directoryStub) get(id string) User {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.users[id]
}

func (d *directoryStub) set(user User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.ID] = user
}

type lockStub struct {
	mu         sync.Mutex
	busy       bool
	acquireErr error
	acquired   int
	released   int
}

func (l *lockStub) TryAcquire(ctx context.Context, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.acquireErr != nil {
		return false, l.acquireErr
	}
	if l.busy {
		return false, nil
	}
	l.acquired++
	return true, nil
}

func (l *lockStub) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released++
	return nil
}

type panicStale struct{}

func (panicStale) MarkStaleOffline(context.Context, time.Time) (int64, error) {
	panic("boom")
}

type manualTicker struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               { t.once.Do(func() { close(t.stopped) }) }

type recordingInstrumentation struct {
	mu       sync.Mutex
	pings    []string
	sweeps   []SweepOutcome
	waits    int
	changed  int
	lastSize int
}

func (r *recordingInstrumentation) PingRecorded(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pings = append(r.pings, kind)
}

func (r *recordingInstrumentation) TrackerSize(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSize = n
}

func (r *recordingInstrumentation) SweepFinished(outcome SweepOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweeps = append(r.sweeps, outcome)
}

func (r *recordingInstrumentation) WaitFinished(window Window, changed bool, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits++
	if changed {
		r.changed++
	}
}

func (r *recordingInstrumentation) sweepCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sweeps)
}

func timePtr(t time.Time) *time.Time { return &t }

func boolPtr(v bool) *bool { return &v }
