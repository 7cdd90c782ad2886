package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"rageval/src/core/accuracy"
)

// Store is an in-memory accuracy.Store. Transactions run under one mutex on a
// copy of the state that replaces the live state on commit.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ accuracy.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

type state struct {
	tests       map[int64]*accuracy.Test
	items       map[int64]*accuracy.Item
	assignments map[int64]*accuracy.Assignment
}

func newState() *state {
	return &state{
		tests:       map[int64]*accuracy.Test{},
		items:       map[int64]*accuracy.Item{},
		assignments: map[int64]*accuracy.Assignment{},
	}
}

// clone copies the indexes; stored values are replaced, never mutated, so they can be shared
func (st *state) clone() *state {
	cp := newState()
	for k, v := range st.tests {
		cp.tests[k] = v
	}
	for k, v := range st.items {
		cp.items[k] = v
	}
	for k, v := range st.assignments {
		cp.assignments[k] = v
	}
	return cp
}

func (s *Store) Transaction(ctx context.Context, fn func(tx accuracy.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txStore{st: s.st.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

// view runs fn against the live state outside any transaction
func (s *Store) view(fn func(tx *txStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&txStore{st: s.st})
}

func (s *Store) CreateTest(ctx context.Context, test *accuracy.Test) error {
	return s.view(func(tx *txStore) error { return tx.CreateTest(ctx, test) })
}

func (s *Store) GetTest(ctx context.Context, id int64, lock bool) (t *accuracy.Test, err error) {
	err = s.view(func(tx *txStore) error {
		t, err = tx.GetTest(ctx, id, lock)
		return err
	})
	return t, err
}

func (s *Store) UpdateTest(ctx context.Context, test *accuracy.Test) error {
	return s.view(func(tx *txStore) error { return tx.UpdateTest(ctx, test) })
}

func (s *Store) DeleteTest(ctx context.Context, id int64) error {
	return s.view(func(tx *txStore) error { return tx.DeleteTest(ctx, id) })
}

func (s *Store) ListTests(ctx context.Context, projectID string, statuses ...accuracy.TestStatus) (out []accuracy.Test, err error) {
	err = s.view(func(tx *txStore) error {
		out, err = tx.ListTests(ctx, projectID, statuses...)
		return err
	})
	return out, err
}

func (s *Store) CreateItems(ctx context.Context, items []accuracy.Item) error {
	return s.view(func(tx *txStore) error { return tx.CreateItems(ctx, items) })
}

func (s *Store) GetItem(ctx context.Context, testID, itemID int64) (it *accuracy.Item, err error) {
	err = s.view(func(tx *txStore) error {
		it, err = tx.GetItem(ctx, testID, itemID)
		return err
	})
	return it, err
}

func (s *Store) GetItemByQuestion(ctx context.Context, testID int64, questionID string) (it *accuracy.Item, err error) {
	err = s.view(func(tx *txStore) error {
		it, err = tx.GetItemByQuestion(ctx, testID, questionID)
		return err
	})
	return it, err
}

func (s *Store) UpdateItem(ctx context.Context, item *accuracy.Item) error {
	return s.view(func(tx *txStore) error { return tx.UpdateItem(ctx, item) })
}

func (s *Store) DeleteItems(ctx context.Context, testID int64, ids []int64) error {
	return s.view(func(tx *txStore) error { return tx.DeleteItems(ctx, testID, ids) })
}

func (s *Store) ListItems(ctx context.Context, q accuracy.ItemQuery) (out []accuracy.Item, total int64, err error) {
	err = s.view(func(tx *txStore) error {
		out, total, err = tx.ListItems(ctx, q)
		return err
	})
	return out, total, err
}

func (s *Store) ListItemsByIDs(ctx context.Context, testID int64, ids []int64) (out []accuracy.Item, err error) {
	err = s.view(func(tx *txStore) error {
		out, err = tx.ListItemsByIDs(ctx, testID, ids)
		return err
	})
	return out, err
}

func (s *Store) CountItems(ctx context.Context, testID int64) (c accuracy.ItemCounts, err error) {
	err = s.view(func(tx *txStore) error {
		c, err = tx.CountItems(ctx, testID)
		return err
	})
	return c, err
}

func (s *Store) CreateAssignment(ctx context.Context, a *accuracy.Assignment) error {
	return s.view(func(tx *txStore) error { return tx.CreateAssignment(ctx, a) })
}

func (s *Store) GetAssignment(ctx context.Context, id int64) (a *accuracy.Assignment, err error) {
	err = s.view(func(tx *txStore) error {
		a, err = tx.GetAssignment(ctx, id)
		return err
	})
	return a, err
}

func (s *Store) GetAssignmentByCode(ctx context.Context, code string, lock bool) (a *accuracy.Assignment, err error) {
	err = s.view(func(tx *txStore) error {
		a, err = tx.GetAssignmentByCode(ctx, code, lock)
		return err
	})
	return a, err
}

func (s *Store) UpdateAssignment(ctx context.Context, a *accuracy.Assignment) error {
	return s.view(func(tx *txStore) error { return tx.UpdateAssignment(ctx, a) })
}

func (s *Store) ListAssignments(ctx context.Context, testID int64) (out []accuracy.Assignment, err error) {
	err = s.view(func(tx *txStore) error {
		out, err = tx.ListAssignments(ctx, testID)
		return err
	})
	return out, err
}

// deepCopy detaches a value from the caller through a JSON round trip
func deepCopy[T any](v *T) (*T, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to copy %T: %w", v, err)
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("failed to copy %T: %w", v, err)
	}
	return out, nil
}

func sortItems(items []accuracy.Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].SequenceNumber < items[j].SequenceNumber })
}
