package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kevindbotelho/fin-planner/internal/core"
	"github.com/kevindbotelho/fin-planner/internal/services"

	_ "modernc.org/sqlite"
)

// timeFormat is used for created_at and synced_at columns. Dates proper are
// stored as ISO day strings so lexicographic comparison matches date order.
const timeFormat = time.RFC3339

// SQLiteRepository implements services.Store on a local SQLite file.
type SQLiteRepository struct {
	db *sql.DB
}

var _ services.Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// --- billing periods ---

const periodColumns = "id, name, start_date, end_date"

func scanPeriod(s rowScanner) (core.BillingPeriod, error) {
	var (
		p          core.BillingPeriod
		start, end string
	)
	if err := s.Scan(&p.ID, &p.Name, &start, &end); err != nil {
		return core.BillingPeriod{}, err
	}
	var err error
	if p.StartDate, err = core.ParseDate(start); err != nil {
		return core.BillingPeriod{}, fmt.Errorf("parse period start date: %w", err)
	}
	if p.EndDate, err = core.ParseDate(end); err != nil {
		return core.BillingPeriod{}, fmt.Errorf("parse period end date: %w", err)
	}
	return p, nil
}

func (r *SQLiteRepository) ListPeriods(ctx context.Context) ([]core.BillingPeriod, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+periodColumns+" FROM billing_periods ORDER BY start_date, id")
	if err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	defer rows.Close()

	var periods []core.BillingPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("scan period: %w", err)
		}
		periods = append(periods, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	return periods, nil
}

func (r *SQLiteRepository) GetPeriod(ctx context.Context, id int64) (core.BillingPeriod, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+periodColumns+" FROM billing_periods WHERE id = ?", id)
	p, err := scanPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BillingPeriod{}, fmt.Errorf("billing period %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.BillingPeriod{}, fmt.Errorf("get period %d: %w", id, err)
	}
	return p, nil
}

func (r *SQLiteRepository) CreatePeriod(ctx context.Context, p core.BillingPeriod) (core.BillingPeriod, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO billing_periods (name, start_date, end_date) VALUES (?, ?, ?)",
		p.Name, p.StartDate.String(), p.EndDate.String())
	if err != nil {
		return core.BillingPeriod{}, fmt.Errorf("insert period: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.BillingPeriod{}, fmt.Errorf("insert period id: %w", err)
	}
	p.ID = id
	return p, nil
}

func (r *SQLiteRepository) UpdatePeriod(ctx context.Context, id int64, p core.BillingPeriod) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE billing_periods SET name = ?, start_date = ?, end_date = ? WHERE id = ?",
		p.Name, p.StartDate.String(), p.EndDate.String(), id)
	if err != nil {
		return fmt.Errorf("update period %d: %w", id, err)
	}
	return checkAffected(res, "billing period", id)
}

// DeletePeriod removes the period and the exclusions and goal overrides
// hanging off it. Expense rows stay: their ownership is derived from the
// purchase date, not stored.
func (r *SQLiteRepository) DeletePeriod(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete period %d: %w", id, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM billing_periods WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete period %d: %w", id, err)
	}
	if err := checkAffected(res, "billing period", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM fixed_expense_exclusions WHERE billing_period_id = ?", id); err != nil {
		return fmt.Errorf("delete period %d exclusions: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM category_goal_overrides WHERE billing_period_id = ?", id); err != nil {
		return fmt.Errorf("delete period %d goal overrides: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete period %d: %w", id, err)
	}
	return nil
}

// --- expenses ---

const expenseColumns = "id, description, amount_cents, purchase_date, category_id, subcategory_id, type, fixed_template_id, display_order, created_at"

func scanExpense(s rowScanner) (core.Expense, error) {
	var (
		e            core.Expense
		purchase     string
		typ          string
		created      string
		subcat, tmpl sql.NullInt64
	)
	err := s.Scan(&e.ID, &e.Description, &e.Amount.Cents, &purchase, &e.CategoryID,
		&subcat, &typ, &tmpl, &e.DisplayOrder, &created)
	if err != nil {
		return core.Expense{}, err
	}

	if e.PurchaseDate, err = core.ParseDate(purchase); err != nil {
		return core.Expense{}, fmt.Errorf("parse purchase date: %w", err)
	}
	e.Type = core.ExpenseType(typ)
	if subcat.Valid {
		v := subcat.Int64
		e.SubcategoryID = &v
	}
	if tmpl.Valid {
		v := tmpl.Int64
		e.FixedTemplateID = &v
	}
	if e.CreatedAt, err = time.Parse(timeFormat, created); err != nil {
		return core.Expense{}, fmt.Errorf("parse created_at: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+expenseColumns+" FROM expenses WHERE id = ?", id)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("expense %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense %d: %w", id, err)
	}
	return e, nil
}

func (r *SQLiteRepository) ListExpenses(ctx context.Context, f services.ExpenseFilter) ([]core.Expense, error) {
	query := "SELECT " + expenseColumns + " FROM expenses"
	var (
		conds []string
		args  []any
	)
	if f.TemplateID != nil {
		conds = append(conds, "fixed_template_id = ?")
		args = append(args, *f.TemplateID)
	}
	if f.From != nil {
		conds = append(conds, "purchase_date >= ?")
		args = append(args, f.From.String())
	}
	if f.To != nil {
		conds = append(conds, "purchase_date < ?")
		args = append(args, f.To.String())
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY purchase_date, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return expenses, nil
}

func (r *SQLiteRepository) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO expenses (description, amount_cents, purchase_date, category_id, subcategory_id,
			type, fixed_template_id, display_order, created_at, sync_status, sync_attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		e.Description, e.Amount.Cents, e.PurchaseDate.String(), e.CategoryID, nullableInt(e.SubcategoryID),
		string(e.Type), nullableInt(e.FixedTemplateID), e.DisplayOrder, e.CreatedAt.Format(timeFormat),
		services.SyncPending)
	if err != nil {
		return core.Expense{}, fmt.Errorf("insert expense: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Expense{}, fmt.Errorf("insert expense id: %w", err)
	}
	e.ID = id

	slog.InfoContext(ctx, "expense saved",
		"id", e.ID,
		"description", e.Description,
		"amount_cents", e.Amount.Cents,
		"purchase_date", e.PurchaseDate.String())
	return e, nil
}

// UpdateExpense applies the non-nil patch fields and flags the row for
// re-export to the ledger.
func (r *SQLiteRepository) UpdateExpense(ctx context.Context, id int64, patch services.ExpensePatch) error {
	if patch.IsZero() {
		return r.expenseExists(ctx, id)
	}

	var (
		sets []string
		args []any
	)
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.AmountCents != nil {
		sets = append(sets, "amount_cents = ?")
		args = append(args, *patch.AmountCents)
	}
	if patch.PurchaseDate != nil {
		sets = append(sets, "purchase_date = ?")
		args = append(args, patch.PurchaseDate.String())
	}
	if patch.CategoryID != nil {
		sets = append(sets, "category_id = ?")
		args = append(args, *patch.CategoryID)
	}
	if patch.SubcategoryID != nil {
		sets = append(sets, "subcategory_id = ?")
		args = append(args, *patch.SubcategoryID)
	}
	if patch.DisplayOrder != nil {
		sets = append(sets, "display_order = ?")
		args = append(args, *patch.DisplayOrder)
	}
	sets = append(sets, "sync_status = ?", "sync_attempts = 0")
	args = append(args, services.SyncPending, id)

	res, err := r.db.ExecContext(ctx,
		"UPDATE expenses SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update expense %d: %w", id, err)
	}
	return checkAffected(res, "expense", id)
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM expenses WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete expense %d: %w", id, err)
	}
	return checkAffected(res, "expense", id)
}

func (r *SQLiteRepository) expenseExists(ctx context.Context, id int64) error {
	var one int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM expenses WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("expense %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check expense %d: %w", id, err)
	}
	return nil
}

// --- fixed expense templates ---

const templateColumns = "id, description, amount_cents, category_id, subcategory_id, start_date, end_date, is_active"

func scanTemplate(s rowScanner) (core.FixedExpenseTemplate, error) {
	var (
		t      core.FixedExpenseTemplate
		start  string
		end    sql.NullString
		subcat sql.NullInt64
		active int64
	)
	err := s.Scan(&t.ID, &t.Description, &t.Amount.Cents, &t.CategoryID, &subcat, &start, &end, &active)
	if err != nil {
		return core.FixedExpenseTemplate{}, err
	}

	if t.StartDate, err = core.ParseDate(start); err != nil {
		return core.FixedExpenseTemplate{}, fmt.Errorf("parse template start date: %w", err)
	}
	if end.Valid {
		d, err := core.ParseDate(end.String)
		if err != nil {
			return core.FixedExpenseTemplate{}, fmt.Errorf("parse template end date: %w", err)
		}
		t.EndDate = &d
	}
	if subcat.Valid {
		v := subcat.Int64
		t.SubcategoryID = &v
	}
	t.IsActive = active != 0
	return t, nil
}

func (r *SQLiteRepository) GetTemplate(ctx context.Context, id int64) (core.FixedExpenseTemplate, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+templateColumns+" FROM fixed_expense_templates WHERE id = ?", id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.FixedExpenseTemplate{}, fmt.Errorf("fixed expense template %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.FixedExpenseTemplate{}, fmt.Errorf("get template %d: %w", id, err)
	}
	return t, nil
}

func (r *SQLiteRepository) ListTemplates(ctx context.Context, onlyActive bool) ([]core.FixedExpenseTemplate, error) {
	query := "SELECT " + templateColumns + " FROM fixed_expense_templates"
	if onlyActive {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY id"

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []core.FixedExpenseTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

func (r *SQLiteRepository) CreateTemplate(ctx context.Context, t core.FixedExpenseTemplate) (core.FixedExpenseTemplate, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO fixed_expense_templates (description, amount_cents, category_id, subcategory_id, start_date, end_date, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Description, t.Amount.Cents, t.CategoryID, nullableInt(t.SubcategoryID),
		t.StartDate.String(), nullableDate(t.EndDate), boolToInt(t.IsActive))
	if err != nil {
		return core.FixedExpenseTemplate{}, fmt.Errorf("insert template: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.FixedExpenseTemplate{}, fmt.Errorf("insert template id: %w", err)
	}
	t.ID = id
	return t, nil
}

func (r *SQLiteRepository) UpdateTemplate(ctx context.Context, id int64, patch services.TemplatePatch) error {
	if patch.IsZero() {
		var one int
		err := r.db.QueryRowContext(ctx, "SELECT 1 FROM fixed_expense_templates WHERE id = ?", id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("fixed expense template %d: %w", id, core.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check template %d: %w", id, err)
		}
		return nil
	}

	var (
		sets []string
		args []any
	)
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.AmountCents != nil {
		sets = append(sets, "amount_cents = ?")
		args = append(args, *patch.AmountCents)
	}
	if patch.StartDate != nil {
		sets = append(sets, "start_date = ?")
		args = append(args, patch.StartDate.String())
	}
	if patch.CategoryID != nil {
		sets = append(sets, "category_id = ?")
		args = append(args, *patch.CategoryID)
	}
	if patch.SubcategoryID != nil {
		sets = append(sets, "subcategory_id = ?")
		args = append(args, *patch.SubcategoryID)
	}
	args = append(args, id)

	res, err := r.db.ExecContext(ctx,
		"UPDATE fixed_expense_templates SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update template %d: %w", id, err)
	}
	return checkAffected(res, "fixed expense template", id)
}

func (r *SQLiteRepository) DeactivateTemplate(ctx context.Context, id int64, end core.Date) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE fixed_expense_templates SET is_active = 0, end_date = ? WHERE id = ?",
		end.String(), id)
	if err != nil {
		return fmt.Errorf("deactivate template %d: %w", id, err)
	}
	if err := checkAffected(res, "fixed expense template", id); err != nil {
		return err
	}

	slog.InfoContext(ctx, "template deactivated", "id", id, "end_date", end.String())
	return nil
}

// --- exclusions ---

const exclusionColumns = "id, template_id, billing_period_id"

func scanExclusion(s rowScanner) (core.FixedExpenseExclusion, error) {
	var ex core.FixedExpenseExclusion
	if err := s.Scan(&ex.ID, &ex.TemplateID, &ex.BillingPeriodID); err != nil {
		return core.FixedExpenseExclusion{}, err
	}
	return ex, nil
}

// CreateExclusion is idempotent: inserting an existing pair returns the
// stored row unchanged.
func (r *SQLiteRepository) CreateExclusion(ctx context.Context, templateID, periodID int64) (core.FixedExpenseExclusion, error) {
	_, err := r.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO fixed_expense_exclusions (template_id, billing_period_id) VALUES (?, ?)",
		templateID, periodID)
	if err != nil {
		return core.FixedExpenseExclusion{}, fmt.Errorf("insert exclusion: %w", err)
	}

	row := r.db.QueryRowContext(ctx,
		"SELECT "+exclusionColumns+" FROM fixed_expense_exclusions WHERE template_id = ? AND billing_period_id = ?",
		templateID, periodID)
	ex, err := scanExclusion(row)
	if err != nil {
		return core.FixedExpenseExclusion{}, fmt.Errorf("read exclusion: %w", err)
	}
	return ex, nil
}

func (r *SQLiteRepository) ListExclusions(ctx context.Context) ([]core.FixedExpenseExclusion, error) {
	return r.queryExclusions(ctx,
		"SELECT "+exclusionColumns+" FROM fixed_expense_exclusions ORDER BY id")
}

func (r *SQLiteRepository) ListTemplateExclusions(ctx context.Context, templateID int64) ([]core.FixedExpenseExclusion, error) {
	return r.queryExclusions(ctx,
		"SELECT "+exclusionColumns+" FROM fixed_expense_exclusions WHERE template_id = ? ORDER BY id", templateID)
}

func (r *SQLiteRepository) ListPeriodExclusions(ctx context.Context, periodID int64) ([]core.FixedExpenseExclusion, error) {
	return r.queryExclusions(ctx,
		"SELECT "+exclusionColumns+" FROM fixed_expense_exclusions WHERE billing_period_id = ? ORDER BY id", periodID)
}

func (r *SQLiteRepository) queryExclusions(ctx context.Context, query string, args ...any) ([]core.FixedExpenseExclusion, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list exclusions: %w", err)
	}
	defer rows.Close()

	var exclusions []core.FixedExpenseExclusion
	for rows.Next() {
		ex, err := scanExclusion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exclusion: %w", err)
		}
		exclusions = append(exclusions, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list exclusions: %w", err)
	}
	return exclusions, nil
}

// --- category goals ---

func (r *SQLiteRepository) GetCategoryGoal(ctx context.Context, userID, categoryID int64) (*core.CategoryGoal, error) {
	var g core.CategoryGoal
	err := r.db.QueryRowContext(ctx,
		"SELECT id, user_id, category_id, percent FROM category_goals WHERE user_id = ? AND category_id = ?",
		userID, categoryID).Scan(&g.ID, &g.UserID, &g.CategoryID, &g.Percent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get category goal: %w", err)
	}
	return &g, nil
}

func (r *SQLiteRepository) ListCategoryGoals(ctx context.Context, userID int64) ([]core.CategoryGoal, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, user_id, category_id, percent FROM category_goals WHERE user_id = ? ORDER BY category_id",
		userID)
	if err != nil {
		return nil, fmt.Errorf("list category goals: %w", err)
	}
	defer rows.Close()

	var goals []core.CategoryGoal
	for rows.Next() {
		var g core.CategoryGoal
		if err := rows.Scan(&g.ID, &g.UserID, &g.CategoryID, &g.Percent); err != nil {
			return nil, fmt.Errorf("scan category goal: %w", err)
		}
		goals = append(goals, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list category goals: %w", err)
	}
	return goals, nil
}

func (r *SQLiteRepository) UpsertCategoryGoal(ctx context.Context, g core.CategoryGoal) (core.CategoryGoal, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO category_goals (user_id, category_id, percent) VALUES (?, ?, ?)
		ON CONFLICT(user_id, category_id) DO UPDATE SET percent = excluded.percent`,
		g.UserID, g.CategoryID, g.Percent)
	if err != nil {
		return core.CategoryGoal{}, fmt.Errorf("upsert category goal: %w", err)
	}

	saved, err := r.GetCategoryGoal(ctx, g.UserID, g.CategoryID)
	if err != nil {
		return core.CategoryGoal{}, err
	}
	if saved == nil {
		return core.CategoryGoal{}, fmt.Errorf("upsert category goal: row not found after write")
	}
	return *saved, nil
}

func (r *SQLiteRepository) GetGoalOverride(ctx context.Context, userID, categoryID, periodID int64) (*core.CategoryGoalOverride, error) {
	var o core.CategoryGoalOverride
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, category_id, billing_period_id, percent FROM category_goal_overrides
		WHERE user_id = ? AND category_id = ? AND billing_period_id = ?`,
		userID, categoryID, periodID).Scan(&o.ID, &o.UserID, &o.CategoryID, &o.BillingPeriodID, &o.Percent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get goal override: %w", err)
	}
	return &o, nil
}

func (r *SQLiteRepository) ListGoalOverrides(ctx context.Context, userID, periodID int64) ([]core.CategoryGoalOverride, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, category_id, billing_period_id, percent FROM category_goal_overrides
		WHERE user_id = ? AND billing_period_id = ? ORDER BY category_id`,
		userID, periodID)
	if err != nil {
		return nil, fmt.Errorf("list goal overrides: %w", err)
	}
	defer rows.Close()

	var overrides []core.CategoryGoalOverride
	for rows.Next() {
		var o core.CategoryGoalOverride
		if err := rows.Scan(&o.ID, &o.UserID, &o.CategoryID, &o.BillingPeriodID, &o.Percent); err != nil {
			return nil, fmt.Errorf("scan goal override: %w", err)
		}
		overrides = append(overrides, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list goal overrides: %w", err)
	}
	return overrides, nil
}

func (r *SQLiteRepository) UpsertGoalOverride(ctx context.Context, o core.CategoryGoalOverride) (core.CategoryGoalOverride, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO category_goal_overrides (user_id, category_id, billing_period_id, percent) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, category_id, billing_period_id) DO UPDATE SET percent = excluded.percent`,
		o.UserID, o.CategoryID, o.BillingPeriodID, o.Percent)
	if err != nil {
		return core.CategoryGoalOverride{}, fmt.Errorf("upsert goal override: %w", err)
	}

	saved, err := r.GetGoalOverride(ctx, o.UserID, o.CategoryID, o.BillingPeriodID)
	if err != nil {
		return core.CategoryGoalOverride{}, err
	}
	if saved == nil {
		return core.CategoryGoalOverride{}, fmt.Errorf("upsert goal override: row not found after write")
	}
	return *saved, nil
}

// --- ledger sync state ---

func (r *SQLiteRepository) PendingLedgerExpenses(ctx context.Context, limit int) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+expenseColumns+" FROM expenses WHERE sync_status = ? ORDER BY created_at, id LIMIT ?",
		services.SyncPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending expenses: %w", err)
	}
	defer rows.Close()

	var expenses []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending expenses: %w", err)
	}
	return expenses, nil
}

func (r *SQLiteRepository) LedgerSyncStatus(ctx context.Context, expenseID int64) (string, error) {
	var status string
	err := r.db.QueryRowContext(ctx,
		"SELECT sync_status FROM expenses WHERE id = ?", expenseID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("expense %d: %w", expenseID, core.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get sync status %d: %w", expenseID, err)
	}
	return status, nil
}

func (r *SQLiteRepository) MarkLedgerSynced(ctx context.Context, expenseID int64) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE expenses SET sync_status = ?, synced_at = ?, sync_attempts = 0 WHERE id = ?",
		services.SyncSynced, time.Now().UTC().Format(timeFormat), expenseID)
	if err != nil {
		return fmt.Errorf("mark expense synced %d: %w", expenseID, err)
	}
	if err := checkAffected(res, "expense", expenseID); err != nil {
		return err
	}

	slog.InfoContext(ctx, "expense marked as synced", "id", expenseID)
	return nil
}

func (r *SQLiteRepository) MarkLedgerError(ctx context.Context, expenseID int64) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE expenses SET sync_status = ? WHERE id = ?",
		services.SyncError, expenseID)
	if err != nil {
		return fmt.Errorf("mark expense sync error %d: %w", expenseID, err)
	}
	if err := checkAffected(res, "expense", expenseID); err != nil {
		return err
	}

	slog.WarnContext(ctx, "expense marked with sync error", "id", expenseID)
	return nil
}

func (r *SQLiteRepository) IncrementLedgerAttempts(ctx context.Context, expenseID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE expenses SET sync_attempts = sync_attempts + 1 WHERE id = ?", expenseID)
	if err != nil {
		return 0, fmt.Errorf("increment sync attempts %d: %w", expenseID, err)
	}
	if err := checkAffected(res, "expense", expenseID); err != nil {
		return 0, err
	}

	var attempts int64
	err = r.db.QueryRowContext(ctx,
		"SELECT sync_attempts FROM expenses WHERE id = ?", expenseID).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("read sync attempts %d: %w", expenseID, err)
	}
	return attempts, nil
}

// --- helpers ---

func checkAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %d: rows affected: %w", entity, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", entity, id, core.ErrNotFound)
	}
	return nil
}

func nullableInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableDate(d *core.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
