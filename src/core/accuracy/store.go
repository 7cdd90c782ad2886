package accuracy

import "context"

// Store persists tests, items and assignments.
// Lookups of missing rows return an error wrapping ErrNotFound.
type Store interface {
	// Transaction runs fn atomically. Stores report lost write races as
	// ErrPersistenceConflict so the caller can retry the whole unit.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	CreateTest(ctx context.Context, test *Test) error
	// GetTest loads a test, taking a row lock for the rest of the transaction when lock is set.
	GetTest(ctx context.Context, id int64, lock bool) (*Test, error)
	UpdateTest(ctx context.Context, test *Test) error
	// DeleteTest removes the test with its items and assignments.
	DeleteTest(ctx context.Context, id int64) error
	ListTests(ctx context.Context, projectID string, statuses ...TestStatus) ([]Test, error)

	CreateItems(ctx context.Context, items []Item) error
	GetItem(ctx context.Context, testID, itemID int64) (*Item, error)
	GetItemByQuestion(ctx context.Context, testID int64, questionID string) (*Item, error)
	UpdateItem(ctx context.Context, item *Item) error
	DeleteItems(ctx context.Context, testID int64, ids []int64) error
	// ListItems returns one page ordered by sequence number and the unpaginated match count.
	ListItems(ctx context.Context, q ItemQuery) ([]Item, int64, error)
	ListItemsByIDs(ctx context.Context, testID int64, ids []int64) ([]Item, error)
	CountItems(ctx context.Context, testID int64) (ItemCounts, error)

	// CreateAssignment fails with ErrDuplicateAccessCode when the code is taken,
	// leaving the surrounding transaction usable.
	CreateAssignment(ctx context.Context, a *Assignment) error
	GetAssignment(ctx context.Context, id int64) (*Assignment, error)
	GetAssignmentByCode(ctx context.Context, code string, lock bool) (*Assignment, error)
	UpdateAssignment(ctx context.Context, a *Assignment) error
	ListAssignments(ctx context.Context, testID int64) ([]Assignment, error)
}
