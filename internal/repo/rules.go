package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"choreline/internal/domain"
	"choreline/internal/schedule"
)

const ruleColumns = `id,group_id,title,COALESCE(description,''),reward,requires_image,requires_approval,auto_assign,assigned_member_id,
due_duration_days,due_duration_hours,skip_holidays,move_to_next_business_day,delete_incomplete_previous,
start_date,end_date,status,paused_at,schedules_json,created_by,created_at,updated_at`

func (r Repo) InsertRule(ctx context.Context, tx *sql.Tx, rule domain.ScheduledRule) error {
	specs, err := json.Marshal(rule.Schedules)
	if err != nil {
		return fmt.Errorf("marshal schedules: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO scheduled_rules(id,group_id,title,description,reward,requires_image,requires_approval,auto_assign,assigned_member_id,
due_duration_days,due_duration_hours,skip_holidays,move_to_next_business_day,delete_incomplete_previous,
start_date,end_date,status,paused_at,schedules_json,created_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rule.ID, rule.GroupID, rule.Title, nullable(rule.Description), rule.Reward,
		boolToInt(rule.RequiresImage), boolToInt(rule.RequiresApproval), boolToInt(rule.AutoAssign), nullableStringPtr(rule.AssignedMemberID),
		rule.DueDurationDays, rule.DueDurationHours,
		boolToInt(rule.SkipHolidays), boolToInt(rule.MoveToNextBusinessDay), boolToInt(rule.DeleteIncompletePrevious),
		rule.StartDate, nullableStringPtr(rule.EndDate), rule.Status, nullableStringPtr(rule.PausedAt),
		string(specs), rule.CreatedBy, rule.CreatedAt, rule.UpdatedAt)
	return err
}

func (r Repo) UpdateRule(ctx context.Context, tx *sql.Tx, rule domain.ScheduledRule) error {
	specs, err := json.Marshal(rule.Schedules)
	if err != nil {
		return fmt.Errorf("marshal schedules: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE scheduled_rules SET title=?, description=?, reward=?, requires_image=?, requires_approval=?, auto_assign=?, assigned_member_id=?,
due_duration_days=?, due_duration_hours=?, skip_holidays=?, move_to_next_business_day=?, delete_incomplete_previous=?,
start_date=?, end_date=?, schedules_json=?, updated_at=? WHERE id=?`,
		rule.Title, nullable(rule.Description), rule.Reward,
		boolToInt(rule.RequiresImage), boolToInt(rule.RequiresApproval), boolToInt(rule.AutoAssign), nullableStringPtr(rule.AssignedMemberID),
		rule.DueDurationDays, rule.DueDurationHours,
		boolToInt(rule.SkipHolidays), boolToInt(rule.MoveToNextBusinessDay), boolToInt(rule.DeleteIncompletePrevious),
		rule.StartDate, nullableStringPtr(rule.EndDate), string(specs), rule.UpdatedAt, rule.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteRule(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM scheduled_rules WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRuleStatus flips active/paused. Pausing stamps paused_at; resuming
// clears it. No side effects on already-created work items.
func (r Repo) SetRuleStatus(ctx context.Context, id, status, now string) error {
	var pausedAt any
	if status == domain.RulePaused {
		pausedAt = now
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE scheduled_rules SET status=?, paused_at=?, updated_at=? WHERE id=?`,
		status, pausedAt, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRule(ctx context.Context, id string) (domain.ScheduledRule, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM scheduled_rules WHERE id=?`, id)
	rule, err := scanRule(row.Scan)
	if err == sql.ErrNoRows {
		return rule, ErrNotFound
	}
	if err != nil {
		return rule, err
	}
	rule.Tags, err = r.RuleTagNames(ctx, rule.ID)
	return rule, err
}

func (r Repo) ListRulesByGroup(ctx context.Context, groupID string) ([]domain.ScheduledRule, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ruleColumns+` FROM scheduled_rules WHERE group_id=? ORDER BY created_at DESC, id DESC`, groupID)
	if err != nil {
		return nil, err
	}
	return r.collectRules(ctx, rows)
}

// ActiveRulesValidAt returns active rules whose [start_date, end_date]
// window contains the instant. A null end_date means no upper bound.
func (r Repo) ActiveRulesValidAt(ctx context.Context, at time.Time) ([]domain.ScheduledRule, error) {
	ts := at.UTC().Format(time.RFC3339)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ruleColumns+` FROM scheduled_rules
WHERE status='active' AND start_date <= ? AND (end_date IS NULL OR end_date >= ?)
ORDER BY created_at ASC, id ASC`, ts, ts)
	if err != nil {
		return nil, err
	}
	return r.collectRules(ctx, rows)
}

func (r Repo) collectRules(ctx context.Context, rows *sql.Rows) ([]domain.ScheduledRule, error) {
	defer rows.Close()
	var res []domain.ScheduledRule
	for rows.Next() {
		rule, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		tags, err := r.RuleTagNames(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Tags = tags
	}
	return res, nil
}

func scanRule(scan func(dest ...any) error) (domain.ScheduledRule, error) {
	var rule domain.ScheduledRule
	var assigned, endDate, pausedAt sql.NullString
	var reqImage, reqApproval, autoAssign, skipHolidays, moveNext, deletePrev int
	var specsJSON string
	err := scan(&rule.ID, &rule.GroupID, &rule.Title, &rule.Description, &rule.Reward,
		&reqImage, &reqApproval, &autoAssign, &assigned,
		&rule.DueDurationDays, &rule.DueDurationHours,
		&skipHolidays, &moveNext, &deletePrev,
		&rule.StartDate, &endDate, &rule.Status, &pausedAt,
		&specsJSON, &rule.CreatedBy, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return rule, err
	}
	rule.RequiresImage = reqImage != 0
	rule.RequiresApproval = reqApproval != 0
	rule.AutoAssign = autoAssign != 0
	rule.SkipHolidays = skipHolidays != 0
	rule.MoveToNextBusinessDay = moveNext != 0
	rule.DeleteIncompletePrevious = deletePrev != 0
	if assigned.Valid {
		rule.AssignedMemberID = &assigned.String
	}
	if endDate.Valid {
		rule.EndDate = &endDate.String
	}
	if pausedAt.Valid {
		rule.PausedAt = &pausedAt.String
	}
	var specs []schedule.Spec
	if err := json.Unmarshal([]byte(specsJSON), &specs); err != nil {
		return rule, fmt.Errorf("rule %s: decode schedules: %w", rule.ID, err)
	}
	rule.Schedules = specs
	return rule, nil
}

// SyncTags replaces a rule's tag set wholesale.
func (r Repo) SyncTags(ctx context.Context, tx *sql.Tx, ruleID string, tagNames []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM rule_tags WHERE rule_id=?`, ruleID); err != nil {
		return err
	}
	for _, name := range tagNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO rule_tags(rule_id,tag_name) VALUES (?,?)`, ruleID, name); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) RuleTagNames(ctx context.Context, ruleID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT tag_name FROM rule_tags WHERE rule_id=? ORDER BY tag_name ASC`, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (r Repo) InsertDeferral(ctx context.Context, tx *sql.Tx, d domain.Deferral) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO rule_deferrals(rule_id,fire_date,fire_time,created_at) VALUES (?,?,?,?)`,
		d.RuleID, d.FireDate, d.FireTime, d.CreatedAt)
	return err
}

// DueDeferrals returns unconsumed deferrals whose fire date has arrived.
func (r Repo) DueDeferrals(ctx context.Context, day string) ([]domain.Deferral, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,rule_id,fire_date,fire_time,created_at,consumed_at FROM rule_deferrals
WHERE consumed_at IS NULL AND fire_date <= ? ORDER BY id ASC`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Deferral
	for rows.Next() {
		var d domain.Deferral
		var consumed sql.NullString
		if err := rows.Scan(&d.ID, &d.RuleID, &d.FireDate, &d.FireTime, &d.CreatedAt, &consumed); err != nil {
			return nil, err
		}
		if consumed.Valid {
			d.ConsumedAt = &consumed.String
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) ConsumeDeferral(ctx context.Context, tx *sql.Tx, id int64, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE rule_deferrals SET consumed_at=? WHERE id=? AND consumed_at IS NULL`, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
