package memstore

import (
	"context"
	"fmt"
	"sort"

	"rageval/src/core/accuracy"
)

// txStore operates on one state snapshot
type txStore struct {
	st *state
}

func (tx *txStore) Transaction(ctx context.Context, fn func(tx accuracy.Store) error) error {
	return fn(tx)
}

func (tx *txStore) CreateTest(ctx context.Context, test *accuracy.Test) error {
	if _, ok := tx.st.tests[test.ID]; ok {
		return fmt.Errorf("test %d already exists", test.ID)
	}
	cp, err := deepCopy(test)
	if err != nil {
		return err
	}
	tx.st.tests[test.ID] = cp
	return nil
}

func (tx *txStore) GetTest(ctx context.Context, id int64, lock bool) (*accuracy.Test, error) {
	t, ok := tx.st.tests[id]
	if !ok {
		return nil, fmt.Errorf("test %d: %w", id, accuracy.ErrNotFound)
	}
	return deepCopy(t)
}

func (tx *txStore) UpdateTest(ctx context.Context, test *accuracy.Test) error {
	if _, ok := tx.st.tests[test.ID]; !ok {
		return fmt.Errorf("test %d: %w", test.ID, accuracy.ErrNotFound)
	}
	cp, err := deepCopy(test)
	if err != nil {
		return err
	}
	tx.st.tests[test.ID] = cp
	return nil
}

func (tx *txStore) DeleteTest(ctx context.Context, id int64) error {
	if _, ok := tx.st.tests[id]; !ok {
		return fmt.Errorf("test %d: %w", id, accuracy.ErrNotFound)
	}
	delete(tx.st.tests, id)
	for k, it := range tx.st.items {
		if it.TestID == id {
			delete(tx.st.items, k)
		}
	}
	for k, a := range tx.st.assignments {
		if a.TestID == id {
			delete(tx.st.assignments, k)
		}
	}
	return nil
}

func (tx *txStore) ListTests(ctx context.Context, projectID string, statuses ...accuracy.TestStatus) ([]accuracy.Test, error) {
	want := map[accuracy.TestStatus]bool{}
	for _, s := range statuses {
		want[s] = true
	}
	var out []accuracy.Test
	for _, t := range tx.st.tests {
		if t.ProjectID != projectID {
			continue
		}
		if len(want) > 0 && !want[t.Status] {
			continue
		}
		cp, err := deepCopy(t)
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (tx *txStore) CreateItems(ctx context.Context, items []accuracy.Item) error {
	for i := range items {
		it := &items[i]
		if _, ok := tx.st.items[it.ID]; ok {
			return fmt.Errorf("item %d already exists", it.ID)
		}
		if existing, _ := tx.findByQuestion(it.TestID, it.QuestionID); existing != nil {
			return fmt.Errorf("item for question %s already exists in test %d", it.QuestionID, it.TestID)
		}
		cp, err := deepCopy(it)
		if err != nil {
			return err
		}
		tx.st.items[it.ID] = cp
	}
	return nil
}

func (tx *txStore) findByQuestion(testID int64, questionID string) (*accuracy.Item, bool) {
	for _, it := range tx.st.items {
		if it.TestID == testID && it.QuestionID == questionID {
			return it, true
		}
	}
	return nil, false
}

func (tx *txStore) GetItem(ctx context.Context, testID, itemID int64) (*accuracy.Item, error) {
	it, ok := tx.st.items[itemID]
	if !ok || it.TestID != testID {
		return nil, fmt.Errorf("item %d: %w", itemID, accuracy.ErrNotFound)
	}
	return deepCopy(it)
}

func (tx *txStore) GetItemByQuestion(ctx context.Context, testID int64, questionID string) (*accuracy.Item, error) {
	it, ok := tx.findByQuestion(testID, questionID)
	if !ok {
		return nil, fmt.Errorf("item for question %s: %w", questionID, accuracy.ErrNotFound)
	}
	return deepCopy(it)
}

func (tx *txStore) UpdateItem(ctx context.Context, item *accuracy.Item) error {
	if _, ok := tx.st.items[item.ID]; !ok {
		return fmt.Errorf("item %d: %w", item.ID, accuracy.ErrNotFound)
	}
	cp, err := deepCopy(item)
	if err != nil {
		return err
	}
	tx.st.items[item.ID] = cp
	return nil
}

func (tx *txStore) DeleteItems(ctx context.Context, testID int64, ids []int64) error {
	for _, id := range ids {
		if it, ok := tx.st.items[id]; ok && it.TestID == testID {
			delete(tx.st.items, id)
		}
	}
	return nil
}

func (tx *txStore) ListItems(ctx context.Context, q accuracy.ItemQuery) ([]accuracy.Item, int64, error) {
	want := map[accuracy.ItemStatus]bool{}
	for _, s := range q.Statuses {
		want[s] = true
	}
	var matched []accuracy.Item
	for _, it := range tx.st.items {
		if it.TestID != q.TestID {
			continue
		}
		if len(want) > 0 && !want[it.Status] {
			continue
		}
		if q.MinScore != nil && (it.FinalScore == nil || *it.FinalScore < *q.MinScore) {
			continue
		}
		if q.MaxScore != nil && (it.FinalScore == nil || *it.FinalScore > *q.MaxScore) {
			continue
		}
		cp, err := deepCopy(it)
		if err != nil {
			return nil, 0, err
		}
		matched = append(matched, *cp)
	}
	sortItems(matched)

	total := int64(len(matched))
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return []accuracy.Item{}, total, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	return matched, total, nil
}

// ListItemsByIDs returns the items in the order of ids, skipping ids that no longer exist
func (tx *txStore) ListItemsByIDs(ctx context.Context, testID int64, ids []int64) ([]accuracy.Item, error) {
	out := make([]accuracy.Item, 0, len(ids))
	for _, id := range ids {
		it, ok := tx.st.items[id]
		if !ok || it.TestID != testID {
			continue
		}
		cp, err := deepCopy(it)
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	return out, nil
}

func (tx *txStore) CountItems(ctx context.Context, testID int64) (accuracy.ItemCounts, error) {
	counts := accuracy.ItemCounts{}
	for _, it := range tx.st.items {
		if it.TestID == testID {
			counts[it.Status]++
		}
	}
	return counts, nil
}

func (tx *txStore) CreateAssignment(ctx context.Context, a *accuracy.Assignment) error {
	for _, existing := range tx.st.assignments {
		if existing.AccessCode == a.AccessCode {
			return fmt.Errorf("access code %s: %w", a.AccessCode, accuracy.ErrDuplicateAccessCode)
		}
	}
	cp, err := deepCopy(a)
	if err != nil {
		return err
	}
	tx.st.assignments[a.ID] = cp
	return nil
}

func (tx *txStore) GetAssignment(ctx context.Context, id int64) (*accuracy.Assignment, error) {
	a, ok := tx.st.assignments[id]
	if !ok {
		return nil, fmt.Errorf("assignment %d: %w", id, accuracy.ErrNotFound)
	}
	return deepCopy(a)
}

func (tx *txStore) GetAssignmentByCode(ctx context.Context, code string, lock bool) (*accuracy.Assignment, error) {
	for _, a := range tx.st.assignments {
		if a.AccessCode == code {
			return deepCopy(a)
		}
	}
	return nil, fmt.Errorf("access code %s: %w", code, accuracy.ErrNotFound)
}

func (tx *txStore) UpdateAssignment(ctx context.Context, a *accuracy.Assignment) error {
	if _, ok := tx.st.assignments[a.ID]; !ok {
		return fmt.Errorf("assignment %d: %w", a.ID, accuracy.ErrNotFound)
	}
	cp, err := deepCopy(a)
	if err != nil {
		return err
	}
	tx.st.assignments[a.ID] = cp
	return nil
}

func (tx *txStore) ListAssignments(ctx context.Context, testID int64) ([]accuracy.Assignment, error) {
	var out []accuracy.Assignment
	for _, a := range tx.st.assignments {
		if a.TestID != testID {
			continue
		}
		cp, err := deepCopy(a)
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].AssignedAt.Before(out[j].AssignedAt)
	})
	return out, nil
}
