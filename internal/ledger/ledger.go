// Package ledger persists the append-only record of rule evaluations.
// Rows are created once per fire/skip/fail decision and never mutated;
// the success-per-day uniqueness that backs the idempotency gate lives in
// a partial index on the table itself.
package ledger

import (
	"context"
	"database/sql"

	"choreline/internal/domain"
)

type Writer struct {
	DB *sql.DB
}

const recordColumns = `id,rule_id,executed_at,executed_day,status,created_item_id,deleted_item_id,COALESCE(note,''),error_message`

// Append writes a record inside the rule's transaction. Used for success
// and skip outcomes, which must commit or roll back with their side
// effects.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, rec domain.ExecutionRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO rule_executions(rule_id,executed_at,executed_day,status,created_item_id,deleted_item_id,note,error_message)
VALUES (?,?,?,?,?,?,?,?)`,
		rec.RuleID, rec.ExecutedAt, rec.ExecutedDay, rec.Status,
		optional(rec.CreatedItemID), optional(rec.DeletedItemID), nullable(rec.Note), optional(rec.ErrorMessage))
	return err
}

// AppendOutside writes a record directly against the pool, bypassing any
// open transaction. Failure records must survive the rollback of the
// evaluation that produced them.
func (w Writer) AppendOutside(ctx context.Context, rec domain.ExecutionRecord) error {
	_, err := w.DB.ExecContext(ctx, `INSERT INTO rule_executions(rule_id,executed_at,executed_day,status,created_item_id,deleted_item_id,note,error_message)
VALUES (?,?,?,?,?,?,?,?)`,
		rec.RuleID, rec.ExecutedAt, rec.ExecutedDay, rec.Status,
		optional(rec.CreatedItemID), optional(rec.DeletedItemID), nullable(rec.Note), optional(rec.ErrorMessage))
	return err
}

// HasSuccessOn reports whether the rule already produced a success record
// on the given local calendar day. This is the idempotency gate.
func (w Writer) HasSuccessOn(ctx context.Context, tx *sql.Tx, ruleID, day string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM rule_executions WHERE rule_id=? AND executed_day=? AND status='success' LIMIT 1`, ruleID, day)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// LastSuccessful returns the most recent success record that created an
// item, or sql.ErrNoRows wrapped as found=false.
func (w Writer) LastSuccessful(ctx context.Context, ruleID string) (domain.ExecutionRecord, bool, error) {
	row := w.DB.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM rule_executions
WHERE rule_id=? AND status='success' AND created_item_id IS NOT NULL
ORDER BY executed_at DESC, id DESC LIMIT 1`, ruleID)
	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, err
	}
	return rec, true, nil
}

// History returns the newest records first, for operator display.
func (w Writer) History(ctx context.Context, ruleID string, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := w.DB.QueryContext(ctx, `SELECT `+recordColumns+` FROM rule_executions
WHERE rule_id=? ORDER BY executed_at DESC, id DESC LIMIT ?`, ruleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func scanRecord(scan func(dest ...any) error) (domain.ExecutionRecord, error) {
	var rec domain.ExecutionRecord
	var created, deleted, errMsg sql.NullString
	err := scan(&rec.ID, &rec.RuleID, &rec.ExecutedAt, &rec.ExecutedDay, &rec.Status, &created, &deleted, &rec.Note, &errMsg)
	if err != nil {
		return rec, err
	}
	if created.Valid {
		rec.CreatedItemID = &created.String
	}
	if deleted.Valid {
		rec.DeletedItemID = &deleted.String
	}
	if errMsg.Valid {
		rec.ErrorMessage = &errMsg.String
	}
	return rec, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func optional(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
