package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tazhate/taskreminder/internal/domain"
)

const (
	reminderPrefix = "reminder:"
	indexPrefix    = "task_reminders:"
)

func reminderKey(id string) string { return reminderPrefix + id }
func indexKey(taskID string) string { return indexPrefix + taskID }

// SaveResult reports where a reminder ended up. Save never fails from the
// caller's point of view; Fallback and Err say whether the transport was skipped.
type SaveResult struct {
	Fallback bool
	Err      error
}

// Store persists reminders and the task→reminders index. It writes through a
// KV transport and keeps an in-process copy whenever the transport fails.
// Store holds no business rules.
type Store struct {
	kv  KV
	log *slog.Logger
	now func() time.Time

	mu        sync.RWMutex
	reminders map[string]*domain.Reminder
	index     map[string][]string
}

// NewStore creates a store over kv. A nil kv runs purely in memory.
func NewStore(kv KV, log *slog.Logger) *Store {
	return &Store{
		kv:        kv,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		reminders: make(map[string]*domain.Reminder),
		index:     make(map[string][]string),
	}
}

// SetClock overrides the timestamp source used for updated_at.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) Backend() string {
	if s.kv == nil {
		return "memory"
	}
	return s.kv.Name()
}

// Save upserts r by id and stamps updated_at.
func (s *Store) Save(ctx context.Context, r *domain.Reminder) SaveResult {
	r.UpdatedAt = s.now()

	if s.kv != nil {
		data, err := json.Marshal(r)
		if err == nil {
			err = s.kv.Set(ctx, reminderKey(r.ID), data)
		}
		if err == nil {
			s.log.Debug("saved reminder to state store", "reminder_id", r.ID, "store", s.kv.Name())
			s.refreshLocal(r)
			return SaveResult{}
		}
		s.logFallback("save reminder", err)
		s.putLocal(r)
		return SaveResult{Fallback: true, Err: err}
	}

	s.putLocal(r)
	return SaveResult{Fallback: true}
}

// Get returns the reminder or nil when it is not tracked anywhere.
func (s *Store) Get(ctx context.Context, id string) (*domain.Reminder, error) {
	if s.kv != nil {
		data, err := s.kv.Get(ctx, reminderKey(id))
		switch {
		case err == nil:
			var r domain.Reminder
			uerr := json.Unmarshal(data, &r)
			if uerr == nil {
				if local := s.getLocal(id); local != nil && local.UpdatedAt.After(r.UpdatedAt) {
					return local, nil
				}
				return &r, nil
			}
			s.log.Error("corrupt reminder in state store", "reminder_id", id, "error", uerr)
		case errors.Is(err, ErrNotFound):
		default:
			s.logFallback("get reminder", err)
		}
	}

	return s.getLocal(id), nil
}

func (s *Store) Delete(ctx context.Context, id string) bool {
	deleted := false
	if s.kv != nil {
		err := s.kv.Delete(ctx, reminderKey(id))
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrNotFound):
		default:
			s.logFallback("delete reminder", err)
		}
	}

	s.mu.Lock()
	if _, ok := s.reminders[id]; ok {
		delete(s.reminders, id)
		deleted = true
	}
	s.mu.Unlock()

	return deleted
}

// AddToIndex records reminderID under taskID. Adding the same pair twice is a
// no-op.
func (s *Store) AddToIndex(ctx context.Context, taskID, reminderID string) {
	if s.kv != nil {
		err := s.addRemoteIndex(ctx, taskID, reminderID)
		if err == nil {
			return
		}
		s.logFallback("add to task index", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[taskID] = appendUnique(s.index[taskID], reminderID)
}

func (s *Store) addRemoteIndex(ctx context.Context, taskID, reminderID string) error {
	ids, err := s.remoteIndex(ctx, taskID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == reminderID {
			return nil
		}
	}
	data, err := json.Marshal(append(ids, reminderID))
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, indexKey(taskID), data)
}

func (s *Store) remoteIndex(ctx context.Context, taskID string) ([]string, error) {
	data, err := s.kv.Get(ctx, indexKey(taskID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// TaskIndex returns every reminder id ever indexed for taskID.
func (s *Store) TaskIndex(ctx context.Context, taskID string) []string {
	var ids []string
	if s.kv != nil {
		remote, err := s.remoteIndex(ctx, taskID)
		if err != nil {
			s.logFallback("read task index", err)
		}
		ids = append(ids, remote...)
	}

	s.mu.RLock()
	for _, id := range s.index[taskID] {
		ids = appendUnique(ids, id)
	}
	s.mu.RUnlock()

	return ids
}

func (s *Store) GetForTask(ctx context.Context, taskID string) ([]*domain.Reminder, error) {
	var reminders []*domain.Reminder
	for _, id := range s.TaskIndex(ctx, taskID) {
		r, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if r != nil {
			reminders = append(reminders, r)
		}
	}
	return reminders, nil
}

// GetPending lists pending reminders known locally, plus those in the
// transport when it can be scanned. Reminders that live only in a transport
// without scan support are not returned.
func (s *Store) GetPending(ctx context.Context) ([]*domain.Reminder, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	pending := all[:0]
	for _, r := range all {
		if r.IsPending() {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

// All lists every tracked reminder ordered by remind_at.
func (s *Store) All(ctx context.Context) ([]*domain.Reminder, error) {
	byID := make(map[string]*domain.Reminder)

	s.mu.RLock()
	for id, r := range s.reminders {
		c := *r
		byID[id] = &c
	}
	s.mu.RUnlock()

	if sc, ok := s.kv.(Scanner); ok {
		values, err := sc.Scan(ctx, reminderPrefix)
		if err != nil {
			s.logFallback("scan reminders", err)
		}
		for _, v := range values {
			var r domain.Reminder
			if err := json.Unmarshal(v, &r); err != nil {
				s.log.Error("corrupt reminder in state store", "error", err)
				continue
			}
			if cur, ok := byID[r.ID]; ok && cur.UpdatedAt.After(r.UpdatedAt) {
				continue
			}
			byID[r.ID] = &r
		}
	}

	out := make([]*domain.Reminder, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RemindAt.Equal(out[j].RemindAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RemindAt.Before(out[j].RemindAt)
	})
	return out, nil
}

func (s *Store) putLocal(r *domain.Reminder) {
	c := *r
	s.mu.Lock()
	s.reminders[r.ID] = &c
	s.mu.Unlock()
}

// refreshLocal keeps an existing in-process copy in step with the transport so
// the scan never sees a stale pending entry.
func (s *Store) refreshLocal(r *domain.Reminder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reminders[r.ID]; ok {
		c := *r
		s.reminders[r.ID] = &c
	}
}

func (s *Store) getLocal(id string) *domain.Reminder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil
	}
	c := *r
	return &c
}

func (s *Store) logFallback(op string, err error) {
	if errors.Is(err, ErrUnavailable) {
		s.log.Warn("state store not available, using local storage", "op", op, "store", s.kv.Name())
		return
	}
	s.log.Error("state store error, using local storage", "op", op, "store", s.kv.Name(), "error", err)
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
