package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"formsync/api/internal/reconcile"
	"formsync/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// execer is the part of *sql.Tx the tree writers need.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, display_name, role, created_at FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.Role, &user.CreatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	const insertUser = `
		INSERT INTO users (id, display_name, role)
		VALUES ($1, $2, 'editor')
		ON CONFLICT (display_name) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id, display_name, role, created_at
	`
	if err := s.db.QueryRowContext(ctx, insertUser, util.NewID("usr"), name).Scan(&user.ID, &user.DisplayName, &user.Role, &user.CreatedAt); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, role, created_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.DisplayName, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListQuestionTypes(ctx context.Context) ([]QuestionType, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, has_options FROM question_types ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list question types: %w", err)
	}
	defer rows.Close()

	items := []QuestionType{}
	for rows.Next() {
		var item QuestionType
		if err := rows.Scan(&item.ID, &item.Name, &item.HasOptions); err != nil {
			return nil, fmt.Errorf("scan question type: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListForms(ctx context.Context, ownerID string) ([]Form, error) {
	const query = `
		SELECT f.id, f.owner_id, f.title, f.description, f.is_published, f.version,
			(SELECT COUNT(*) FROM questions q WHERE q.form_id = f.id),
			f.created_at, f.updated_at
		FROM forms f
		WHERE f.owner_id = $1
		ORDER BY f.updated_at DESC, f.id
	`
	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	defer rows.Close()

	items := []Form{}
	for rows.Next() {
		var item Form
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.Title, &item.Description, &item.IsPublished, &item.Version, &item.QuestionCount, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan form: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetForm(ctx context.Context, formID string) (Form, error) {
	var form Form
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, description, is_published, version, created_at, updated_at
		FROM forms WHERE id=$1
	`, formID).Scan(&form.ID, &form.OwnerID, &form.Title, &form.Description, &form.IsPublished, &form.Version, &form.CreatedAt, &form.UpdatedAt)
	if err != nil {
		return Form{}, err
	}
	return form, nil
}

// GetFormDetail loads a form with its questions and options in ordinal order.
// Rows sharing an ordinal keep id order.
func (s *PostgresStore) GetFormDetail(ctx context.Context, formID string) (FormDetail, error) {
	form, err := s.GetForm(ctx, formID)
	if err != nil {
		return FormDetail{}, err
	}
	detail := FormDetail{Form: form, Questions: []Question{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.form_id, q.ordinal, q.text, q.description, q.type_id, q.is_required,
			t.id, t.name, t.has_options, q.created_at, q.updated_at
		FROM questions q
		JOIN question_types t ON t.id = q.type_id
		WHERE q.form_id = $1
		ORDER BY q.ordinal, q.id
	`, formID)
	if err != nil {
		return FormDetail{}, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	byID := map[string]int{}
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.FormID, &q.Ordinal, &q.Text, &q.Description, &q.TypeID, &q.IsRequired,
			&q.Type.ID, &q.Type.Name, &q.Type.HasOptions, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return FormDetail{}, fmt.Errorf("scan question: %w", err)
		}
		q.Options = []Option{}
		byID[q.ID] = len(detail.Questions)
		detail.Questions = append(detail.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return FormDetail{}, fmt.Errorf("list questions: %w", err)
	}

	optionRows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.question_id, o.ordinal, o.label, o.value, o.created_at, o.updated_at
		FROM options o
		JOIN questions q ON q.id = o.question_id
		WHERE q.form_id = $1
		ORDER BY o.question_id, o.ordinal, o.id
	`, formID)
	if err != nil {
		return FormDetail{}, fmt.Errorf("list options: %w", err)
	}
	defer optionRows.Close()

	for optionRows.Next() {
		var o Option
		if err := optionRows.Scan(&o.ID, &o.QuestionID, &o.Ordinal, &o.Label, &o.Value, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return FormDetail{}, fmt.Errorf("scan option: %w", err)
		}
		i, ok := byID[o.QuestionID]
		if !ok {
			continue
		}
		detail.Questions[i].Options = append(detail.Questions[i].Options, o)
	}
	if err := optionRows.Err(); err != nil {
		return FormDetail{}, fmt.Errorf("list options: %w", err)
	}
	return detail, nil
}

// CreateForm inserts a whole form tree in one transaction and returns the new
// form id.
func (s *PostgresStore) CreateForm(ctx context.Context, ownerID string, entity reconcile.Entity) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin create form tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	formID, err := insertEntity(ctx, tx, formsTable, ownerID, entity)
	if err != nil {
		return "", translateError(err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit create form: %w", translateError(err))
	}
	return formID, nil
}

// ApplyFormUpdate writes a reconciled update under a row lock on the form.
// A positive expectedVersion must match the stored version. It returns the
// version after the write.
func (s *PostgresStore) ApplyFormUpdate(ctx context.Context, formID string, expectedVersion int, update reconcile.Update) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin update form tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var version int
	if err := tx.QueryRowContext(ctx, `SELECT version FROM forms WHERE id=$1 FOR UPDATE`, formID).Scan(&version); err != nil {
		return 0, fmt.Errorf("lock form %s: %w", formID, err)
	}
	if expectedVersion > 0 && version != expectedVersion {
		return 0, fmt.Errorf("%w: form %s is at version %d, not %d", ErrVersionConflict, formID, version, expectedVersion)
	}

	if err := applyRoot(ctx, tx, formID, update); err != nil {
		return 0, translateError(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit update form: %w", translateError(err))
	}
	return version + 1, nil
}

// applyRoot writes the form row, always bumping its version, then the nested
// question operations.
func applyRoot(ctx context.Context, ex execer, formID string, update reconcile.Update) error {
	query, args, err := formsTable.updateStatement(formID, "", update.Data, "version=version+1")
	if err != nil {
		return err
	}
	if err := execOne(ctx, ex, query, args, formsTable.name, formID); err != nil {
		return err
	}
	if update.Children == nil {
		return nil
	}
	return applyOps(ctx, ex, questionsTable, formID, *update.Children)
}

// applyOps writes one level: deletes first, then updates with their nested
// sets, then creates. Deleting a row removes its descendants through the
// foreign keys, so nested deletes are never emitted for it.
func applyOps(ctx context.Context, ex execer, t *table, parentID string, ops reconcile.OperationSet) error {
	for _, ref := range ops.Delete {
		query := fmt.Sprintf(`DELETE FROM %s WHERE id=$1 AND %s=$2`, t.name, t.parentColumn)
		if err := execOne(ctx, ex, query, []any{ref.ID, parentID}, t.name, ref.ID); err != nil {
			return err
		}
	}

	for _, update := range ops.Update {
		if len(update.Data) > 0 {
			query, args, err := t.updateStatement(update.ID, parentID, update.Data)
			if err != nil {
				return err
			}
			if err := execOne(ctx, ex, query, args, t.name, update.ID); err != nil {
				return err
			}
		}
		if update.Children != nil && t.child != nil {
			if err := applyOps(ctx, ex, t.child, update.ID, *update.Children); err != nil {
				return err
			}
		}
	}

	for _, entity := range ops.Create {
		if _, err := insertEntity(ctx, ex, t, parentID, entity); err != nil {
			return err
		}
	}
	return nil
}

func insertEntity(ctx context.Context, ex execer, t *table, parentID string, entity reconcile.Entity) (string, error) {
	id := util.NewID(t.idPrefix)
	query, args, err := t.insertStatement(id, parentID, entity.Data)
	if err != nil {
		return "", err
	}
	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("insert %s: %w", t.name, err)
	}
	if entity.Children == nil || t.child == nil {
		return id, nil
	}
	for _, child := range entity.Children.Create {
		if _, err := insertEntity(ctx, ex, t.child, id, child); err != nil {
			return "", err
		}
	}
	return id, nil
}

// execOne runs a statement that must touch exactly one row. A miss means the
// row left its parent after the tree was read.
func execOne(ctx context.Context, ex execer, query string, args []any, tableName, id string) error {
	result, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("write %s %s: %w", tableName, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("write %s %s: %w", tableName, id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s %s no longer exists", ErrVersionConflict, tableName, id)
	}
	return nil
}

// DeleteForm removes a form; questions and options cascade.
func (s *PostgresStore) DeleteForm(ctx context.Context, formID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM forms WHERE id=$1`, formID)
	if err != nil {
		return fmt.Errorf("delete form: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete form: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
