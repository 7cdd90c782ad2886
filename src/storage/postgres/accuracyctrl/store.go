package accuracyctrl

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"rageval/src/core/accuracy"
)

const createBatchSize = 500

// Store is the Postgres backed accuracy.Store
type Store struct {
	db *gorm.DB
}

var _ accuracy.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the accuracy tables
func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&testRow{}, &itemRow{}, &assignmentRow{})
}

func (s *Store) Transaction(ctx context.Context, fn func(tx accuracy.Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
	return translate(err)
}

// translate maps retryable Postgres failures onto ErrPersistenceConflict
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s (%s)", accuracy.ErrPersistenceConflict, pgErr.Message, pgErr.Code)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Store) query(ctx context.Context, lock bool) *gorm.DB {
	db := s.db.WithContext(ctx)
	if lock {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), accuracy.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", fmt.Sprintf(format, args...), err)
}

func (s *Store) CreateTest(ctx context.Context, test *accuracy.Test) error {
	row, err := toTestRow(test)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to create test: %w", err)
	}
	return nil
}

func (s *Store) GetTest(ctx context.Context, id int64, lock bool) (*accuracy.Test, error) {
	var row testRow
	if err := s.query(ctx, lock).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err, "test %d", id)
	}
	return row.toTest()
}

func (s *Store) UpdateTest(ctx context.Context, test *accuracy.Test) error {
	row, err := toTestRow(test)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(row).Select("*").Omit("created_at").Updates(row)
	if result.Error != nil {
		return fmt.Errorf("failed to update test: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("test %d: %w", test.ID, accuracy.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteTest(ctx context.Context, id int64) error {
	db := s.db.WithContext(ctx)
	if err := db.Where("test_id = ?", id).Delete(&itemRow{}).Error; err != nil {
		return fmt.Errorf("failed to delete items: %w", err)
	}
	if err := db.Where("test_id = ?", id).Delete(&assignmentRow{}).Error; err != nil {
		return fmt.Errorf("failed to delete assignments: %w", err)
	}
	result := db.Where("id = ?", id).Delete(&testRow{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete test: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("test %d: %w", id, accuracy.ErrNotFound)
	}
	return nil
}

func (s *Store) ListTests(ctx context.Context, projectID string, statuses ...accuracy.TestStatus) ([]accuracy.Test, error) {
	db := s.db.WithContext(ctx).Where("project_id = ?", projectID)
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		db = db.Where("status IN ?", names)
	}
	var rows []testRow
	if err := db.Order("created_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}
	out := make([]accuracy.Test, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toTest()
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

func (s *Store) CreateItems(ctx context.Context, items []accuracy.Item) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([]*itemRow, 0, len(items))
	for i := range items {
		row, err := toItemRow(&items[i])
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	if err := s.db.WithContext(ctx).CreateInBatches(rows, createBatchSize).Error; err != nil {
		return fmt.Errorf("failed to create items: %w", err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, testID, itemID int64) (*accuracy.Item, error) {
	var row itemRow
	if err := s.db.WithContext(ctx).Where("test_id = ? AND id = ?", testID, itemID).First(&row).Error; err != nil {
		return nil, notFound(err, "item %d of test %d", itemID, testID)
	}
	it, err := row.toItem()
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *Store) GetItemByQuestion(ctx context.Context, testID int64, questionID string) (*accuracy.Item, error) {
	var row itemRow
	if err := s.db.WithContext(ctx).Where("test_id = ? AND question_id = ?", testID, questionID).First(&row).Error; err != nil {
		return nil, notFound(err, "item for question %s of test %d", questionID, testID)
	}
	it, err := row.toItem()
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *Store) UpdateItem(ctx context.Context, item *accuracy.Item) error {
	row, err := toItemRow(item)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(row).Select("*").Omit("created_at").Updates(row)
	if result.Error != nil {
		return fmt.Errorf("failed to update item: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("item %d: %w", item.ID, accuracy.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteItems(ctx context.Context, testID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("test_id = ? AND id IN ?", testID, ids).Delete(&itemRow{}).Error; err != nil {
		return fmt.Errorf("failed to delete items: %w", err)
	}
	return nil
}

func (s *Store) ListItems(ctx context.Context, q accuracy.ItemQuery) ([]accuracy.Item, int64, error) {
	filter := func() *gorm.DB {
		db := s.db.WithContext(ctx).Model(&itemRow{}).Where("test_id = ?", q.TestID)
		if len(q.Statuses) > 0 {
			names := make([]string, len(q.Statuses))
			for i, st := range q.Statuses {
				names[i] = string(st)
			}
			db = db.Where("status IN ?", names)
		}
		if q.MinScore != nil {
			db = db.Where("final_score >= ?", *q.MinScore)
		}
		if q.MaxScore != nil {
			db = db.Where("final_score <= ?", *q.MaxScore)
		}
		return db
	}

	var total int64
	if err := filter().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count items: %w", err)
	}

	db := filter().Order("sequence_number ASC").Order("id ASC")
	if q.Offset > 0 {
		db = db.Offset(q.Offset)
	}
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	var rows []itemRow
	if err := db.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list items: %w", err)
	}
	items, err := toItems(rows)
	return items, total, err
}

func (s *Store) ListItemsByIDs(ctx context.Context, testID int64, ids []int64) ([]accuracy.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []itemRow
	err := s.db.WithContext(ctx).
		Where("test_id = ? AND id IN ?", testID, ids).
		Order("sequence_number ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return toItems(rows)
}

func toItems(rows []itemRow) ([]accuracy.Item, error) {
	items := make([]accuracy.Item, 0, len(rows))
	for i := range rows {
		it, err := rows[i].toItem()
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

func (s *Store) CountItems(ctx context.Context, testID int64) (accuracy.ItemCounts, error) {
	var rows []struct {
		Status string
		N      int
	}
	err := s.db.WithContext(ctx).
		Model(&itemRow{}).
		Select("status, count(*) AS n").
		Where("test_id = ?", testID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	counts := make(accuracy.ItemCounts, len(rows))
	for _, r := range rows {
		counts[accuracy.ItemStatus(r.Status)] = r.N
	}
	return counts, nil
}

// CreateAssignment inserts inside a savepoint so a duplicate access code
// leaves the surrounding transaction usable.
func (s *Store) CreateAssignment(ctx context.Context, a *accuracy.Assignment) error {
	row, err := toAssignmentRow(a)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(row).Error
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("access code %s: %w", a.AccessCode, accuracy.ErrDuplicateAccessCode)
	}
	if err != nil {
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	return nil
}

func (s *Store) GetAssignment(ctx context.Context, id int64) (*accuracy.Assignment, error) {
	var row assignmentRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err, "assignment %d", id)
	}
	return row.toAssignment()
}

func (s *Store) GetAssignmentByCode(ctx context.Context, code string, lock bool) (*accuracy.Assignment, error) {
	var row assignmentRow
	if err := s.query(ctx, lock).Where("access_code = ?", code).First(&row).Error; err != nil {
		return nil, notFound(err, "assignment %s", code)
	}
	return row.toAssignment()
}

func (s *Store) UpdateAssignment(ctx context.Context, a *accuracy.Assignment) error {
	row, err := toAssignmentRow(a)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(row).Select("*").Updates(row)
	if result.Error != nil {
		return fmt.Errorf("failed to update assignment: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("assignment %d: %w", a.ID, accuracy.ErrNotFound)
	}
	return nil
}

func (s *Store) ListAssignments(ctx context.Context, testID int64) ([]accuracy.Assignment, error) {
	var rows []assignmentRow
	if err := s.db.WithContext(ctx).Where("test_id = ?", testID).Order("assigned_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	out := make([]accuracy.Assignment, 0, len(rows))
	for i := range rows {
		a, err := rows[i].toAssignment()
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}
