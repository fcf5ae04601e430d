package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"kvmdash/internal/storage"
	logx "kvmdash/pkg/logx"
)

type document struct {
	Schedules []Schedule `json:"schedules"`
}

// Store is the schedule collection persisted as one document.
//
// Every mutation goes through Update so the checker and API handlers never
// drop each other's edits.
type Store struct {
	kv  storage.KV
	log logx.Logger
}

func NewStore(kv storage.KV, log logx.Logger) *Store {
	return &Store{kv: kv, log: log.With(logx.String("comp", "schedule.store"))}
}

// decode never fails: a corrupt document reads as an empty collection.
func (s *Store) decode(raw []byte, ok bool) []Schedule {
	if !ok || len(raw) == 0 {
		return []Schedule{}
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.log.Warn("schedule document corrupt; treating as empty", logx.Err(err))
		return []Schedule{}
	}
	if doc.Schedules == nil {
		return []Schedule{}
	}
	for i := range doc.Schedules {
		if doc.Schedules[i].FollowUpActions == nil {
			doc.Schedules[i].FollowUpActions = []FollowUp{}
		}
	}
	return doc.Schedules
}

func encode(list []Schedule) ([]byte, error) {
	if list == nil {
		list = []Schedule{}
	}
	return json.MarshalIndent(document{Schedules: list}, "", "  ")
}

// Load returns the whole collection. Absent or corrupt documents yield an
// empty collection; the error is only set when the backend itself fails.
func (s *Store) Load(ctx context.Context) ([]Schedule, error) {
	raw, ok, err := s.kv.Get(ctx, storage.KeySchedules)
	if err != nil {
		return []Schedule{}, fmt.Errorf("load schedules: %w", err)
	}
	return s.decode(raw, ok), nil
}

// Save replaces the whole collection.
func (s *Store) Save(ctx context.Context, list []Schedule) error {
	b, err := encode(list)
	if err != nil {
		return err
	}
	if err := s.kv.Put(ctx, storage.KeySchedules, b); err != nil {
		return fmt.Errorf("save schedules: %w", err)
	}
	return nil
}

// Update runs fn over the current collection inside one read-modify-write
// critical section. fn reports whether it changed anything; nothing is
// written otherwise. fn may run more than once if the backend retries, so it
// must reset any state it collects on each call.
func (s *Store) Update(ctx context.Context, fn func(list []Schedule) ([]Schedule, bool, error)) error {
	return s.kv.Update(ctx, storage.KeySchedules, func(cur []byte, ok bool) ([]byte, error) {
		next, changed, err := fn(s.decode(cur, ok))
		if err != nil {
			return nil, err
		}
		if !changed {
			return nil, storage.ErrSkipWrite
		}
		return encode(next)
	})
}

// Get returns one schedule by id.
func (s *Store) Get(ctx context.Context, id int64) (Schedule, error) {
	list, err := s.Load(ctx)
	if err != nil {
		return Schedule{}, err
	}
	for _, sc := range list {
		if sc.ID == id {
			return sc, nil
		}
	}
	return Schedule{}, ErrNotFound
}

// Add appends sc. If its id is already taken the id is bumped past the
// current maximum. The stored record is returned.
func (s *Store) Add(ctx context.Context, sc Schedule) (Schedule, error) {
	var added Schedule
	err := s.Update(ctx, func(list []Schedule) ([]Schedule, bool, error) {
		added = sc.Clone()
		var maxID int64
		taken := false
		for _, cur := range list {
			if cur.ID == added.ID {
				taken = true
			}
			if cur.ID > maxID {
				maxID = cur.ID
			}
		}
		if taken {
			added.ID = maxID + 1
		}
		return append(list, added), true, nil
	})
	if err != nil {
		return Schedule{}, err
	}
	return added, nil
}

// Delete removes the schedule with id. Deleting a missing id is not an error.
func (s *Store) Delete(ctx context.Context, id int64) error {
	return s.Update(ctx, func(list []Schedule) ([]Schedule, bool, error) {
		out := list[:0]
		for _, sc := range list {
			if sc.ID != id {
				out = append(out, sc)
			}
		}
		return out, len(out) != len(list), nil
	})
}

// AddFollowUp appends f to the schedule's follow-up chain.
func (s *Store) AddFollowUp(ctx context.Context, id int64, f FollowUp) error {
	return s.Update(ctx, func(list []Schedule) ([]Schedule, bool, error) {
		for i := range list {
			if list[i].ID == id {
				list[i].FollowUpActions = append(list[i].FollowUpActions, f)
				return list, true, nil
			}
		}
		return nil, false, ErrNotFound
	})
}

// DeleteFollowUp removes the follow-up at index from the schedule's chain.
func (s *Store) DeleteFollowUp(ctx context.Context, id int64, index int) error {
	return s.Update(ctx, func(list []Schedule) ([]Schedule, bool, error) {
		for i := range list {
			if list[i].ID != id {
				continue
			}
			fus := list[i].FollowUpActions
			if index < 0 || index >= len(fus) {
				return nil, false, ErrFollowUpNotFound
			}
			list[i].FollowUpActions = append(fus[:index:index], fus[index+1:]...)
			return list, true, nil
		}
		return nil, false, ErrNotFound
	})
}

// IsNotFound reports whether err is a missing schedule or follow-up.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrFollowUpNotFound)
}
