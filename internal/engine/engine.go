package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"choreline/internal/config"
	"choreline/internal/domain"
	"choreline/internal/ledger"
	"choreline/internal/repo"
	"choreline/internal/schedule"
)

const dayFormat = "2006-01-02"

// Engine evaluates scheduled rules against a reference instant and
// materializes work items for the ones that fire. Now and Rand are
// injectable so tests can pin the clock and the random assignee pick.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Holidays *repo.Holidays
	Ledger   ledger.Writer
	Config   *config.Config
	Log      zerolog.Logger
	Now      func() time.Time
	Rand     *rand.Rand
}

func New(db *sql.DB, cfg *config.Config, log zerolog.Logger) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Holidays: repo.NewHolidays(db),
		Ledger:   ledger.Writer{DB: db},
		Config:   cfg,
		Log:      log,
		Now:      time.Now,
		Rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ExecuteScheduledTasks runs one batch: pending business-day deferrals
// first, then every active rule whose validity window contains now. Rules
// are evaluated independently; one rule's failure never aborts the batch.
func (e Engine) ExecuteScheduledTasks(ctx context.Context, now time.Time) (domain.BatchResult, error) {
	if now.IsZero() {
		now = e.now()
	}
	var result domain.BatchResult

	deferrals, err := e.Repo.DueDeferrals(ctx, now.UTC().AddDate(0, 0, 1).Format(dayFormat))
	if err != nil {
		return result, fmt.Errorf("load deferrals: %w", err)
	}
	for _, d := range deferrals {
		outcome, fired := e.executeDeferral(ctx, d, now)
		if fired {
			result.Count(outcome)
		}
	}

	rules, err := e.Repo.ActiveRulesValidAt(ctx, now)
	if err != nil {
		return result, fmt.Errorf("load active rules: %w", err)
	}
	for _, rule := range rules {
		result.Count(e.ExecuteOne(ctx, rule, now))
	}

	e.Log.Info().
		Int("succeeded", result.Succeeded).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Time("at", now).
		Msg("scheduled task batch finished")
	return result, nil
}

// ExecuteOne evaluates a single rule at now and returns its outcome. Any
// error inside the evaluation rolls back the rule's transaction and is
// converted into a failed ledger record written outside it.
func (e Engine) ExecuteOne(ctx context.Context, rule domain.ScheduledRule, now time.Time) string {
	outcome, err := e.evaluateRule(ctx, rule, now)
	if err != nil {
		e.recordFailure(ctx, rule, now, err)
		return domain.OutcomeFailed
	}
	return outcome
}

func (e Engine) evaluateRule(ctx context.Context, rule domain.ScheduledRule, now time.Time) (string, error) {
	loc := e.creatorLocation(ctx, rule)
	local := now.In(loc)
	day := local.Format(dayFormat)
	ts := now.UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	holiday, err := e.holidayForRule(ctx, rule, local)
	if err != nil {
		return "", err
	}
	if holiday && rule.SkipHolidays {
		err := e.Ledger.Append(ctx, tx, domain.ExecutionRecord{
			RuleID: rule.ID, ExecutedAt: ts, ExecutedDay: day,
			Status: domain.OutcomeSkipped, Note: "holiday",
		})
		if err != nil {
			return "", err
		}
		return domain.OutcomeSkipped, tx.Commit()
	}

	if !schedule.Matches(rule.Schedules, local) {
		// Non-matching evaluations are not ledgered; only genuine
		// fire/skip/fail decisions are.
		return domain.OutcomeSkipped, tx.Commit()
	}

	// Matched on a holiday with only the move flag set: reschedule the
	// firing to the next business day via the deferral queue.
	if holiday && rule.MoveToNextBusinessDay {
		next, err := e.Holidays.NextBusinessDay(ctx, local)
		if err != nil {
			return "", err
		}
		err = e.Repo.InsertDeferral(ctx, tx, domain.Deferral{
			RuleID: rule.ID, FireDate: next.Format(dayFormat), FireTime: local.Format("15:04"), CreatedAt: ts,
		})
		if err != nil {
			return "", err
		}
		err = e.Ledger.Append(ctx, tx, domain.ExecutionRecord{
			RuleID: rule.ID, ExecutedAt: ts, ExecutedDay: day,
			Status: domain.OutcomeSkipped, Note: "moved to next business day " + next.Format(dayFormat),
		})
		if err != nil {
			return "", err
		}
		return domain.OutcomeSkipped, tx.Commit()
	}

	already, err := e.Ledger.HasSuccessOn(ctx, tx, rule.ID, day)
	if err != nil {
		return "", err
	}
	if already {
		return domain.OutcomeSkipped, tx.Commit()
	}

	return e.fire(ctx, tx, rule, local, day, ts)
}

// fire runs steps shared between a regular match and a consumed deferral:
// reconcile the previous item, resolve the assignee, create the item(s),
// ledger the success.
func (e Engine) fire(ctx context.Context, tx *sql.Tx, rule domain.ScheduledRule, local time.Time, day, ts string) (string, error) {
	deletedID, err := e.reconcilePrevious(ctx, tx, rule, ts)
	if err != nil {
		return "", err
	}
	assignee, err := e.resolveAssignee(ctx, rule)
	if err != nil {
		return "", err
	}
	createdID, err := e.createWorkItems(ctx, tx, rule, assignee, local, ts)
	if err != nil {
		return "", err
	}
	err = e.Ledger.Append(ctx, tx, domain.ExecutionRecord{
		RuleID: rule.ID, ExecutedAt: ts, ExecutedDay: day,
		Status: domain.OutcomeSuccess, CreatedItemID: createdID, DeletedItemID: deletedID,
	})
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	e.Log.Info().Str("rule_id", rule.ID).Str("day", day).Msg("scheduled rule fired")
	return domain.OutcomeSuccess, nil
}

// executeDeferral fires a pending business-day reschedule once its fire
// date has arrived in the creator's zone and the local HH:MM matches the
// originally matched time. Returns fired=false when the minute has not
// come yet; the deferral stays pending.
func (e Engine) executeDeferral(ctx context.Context, d domain.Deferral, now time.Time) (string, bool) {
	rule, err := e.Repo.GetRule(ctx, d.RuleID)
	if errors.Is(err, repo.ErrNotFound) {
		e.Log.Warn().Int64("deferral_id", d.ID).Str("rule_id", d.RuleID).Msg("deferral for missing rule dropped")
		e.dropDeferral(ctx, d)
		return "", false
	}
	if err != nil {
		e.Log.Error().Err(err).Int64("deferral_id", d.ID).Msg("load deferred rule")
		return "", false
	}
	if rule.Status != domain.RuleActive {
		return "", false
	}
	if rule.EndDate != nil && *rule.EndDate < now.UTC().Format(time.RFC3339) {
		e.Log.Info().Int64("deferral_id", d.ID).Str("rule_id", d.RuleID).Msg("deferral expired with its rule, dropped")
		e.dropDeferral(ctx, d)
		return "", false
	}

	loc := e.creatorLocation(ctx, rule)
	local := now.In(loc)
	if local.Format(dayFormat) < d.FireDate || local.Format("15:04") != d.FireTime {
		return "", false
	}

	outcome, err := e.fireDeferred(ctx, rule, d, local, now)
	if err != nil {
		e.recordFailure(ctx, rule, now, err)
		return domain.OutcomeFailed, true
	}
	return outcome, true
}

func (e Engine) fireDeferred(ctx context.Context, rule domain.ScheduledRule, d domain.Deferral, local, now time.Time) (string, error) {
	day := local.Format(dayFormat)
	ts := now.UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if err := e.Repo.ConsumeDeferral(ctx, tx, d.ID, ts); err != nil {
		return "", fmt.Errorf("consume deferral %d: %w", d.ID, err)
	}
	already, err := e.Ledger.HasSuccessOn(ctx, tx, rule.ID, day)
	if err != nil {
		return "", err
	}
	if already {
		return domain.OutcomeSkipped, tx.Commit()
	}
	return e.fire(ctx, tx, rule, local, day, ts)
}

func (e Engine) dropDeferral(ctx context.Context, d domain.Deferral) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer tx.Rollback()
	if err := e.Repo.ConsumeDeferral(ctx, tx, d.ID, e.now().UTC().Format(time.RFC3339)); err != nil {
		return
	}
	_ = tx.Commit()
}

// holidayForRule checks the holiday calendar only when one of the holiday
// flags could change the outcome.
func (e Engine) holidayForRule(ctx context.Context, rule domain.ScheduledRule, local time.Time) (bool, error) {
	if !rule.SkipHolidays && !rule.MoveToNextBusinessDay {
		return false, nil
	}
	return e.Holidays.IsHoliday(ctx, local)
}

// reconcilePrevious soft-removes the last created, still-incomplete,
// not-yet-removed work item before a new one replaces it.
func (e Engine) reconcilePrevious(ctx context.Context, tx *sql.Tx, rule domain.ScheduledRule, ts string) (*string, error) {
	if !rule.DeleteIncompletePrevious {
		return nil, nil
	}
	last, found, err := e.Ledger.LastSuccessful(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	if !found || last.CreatedItemID == nil {
		return nil, nil
	}
	item, err := e.Repo.GetWorkItem(ctx, *last.CreatedItemID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if item.CompletedAt != nil || item.DeletedAt != nil {
		return nil, nil
	}
	removed, err := e.Repo.SoftDeleteWorkItem(ctx, tx, item.ID, ts)
	if err != nil || !removed {
		return nil, err
	}
	e.Log.Info().Str("item_id", item.ID).Str("rule_id", rule.ID).Msg("previous incomplete item removed")
	return &item.ID, nil
}

// resolveAssignee returns the fixed assignee, a uniform-random group
// member for auto-assign, or nil meaning broadcast to non-editors.
func (e Engine) resolveAssignee(ctx context.Context, rule domain.ScheduledRule) (*string, error) {
	if !rule.AutoAssign {
		return rule.AssignedMemberID, nil
	}
	ids, err := e.Repo.GroupMemberIDs(ctx, rule.GroupID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pick := ids[e.Rand.Intn(len(ids))]
	return &pick, nil
}

// createWorkItems materializes the fired rule. One item for a resolved
// assignee; otherwise one per non-editor member, each carrying the rule's
// tags. Returns the id of the last created item for the ledger.
func (e Engine) createWorkItems(ctx context.Context, tx *sql.Tx, rule domain.ScheduledRule, assignee *string, local time.Time, ts string) (*string, error) {
	var dueStr *string
	if due := schedule.DueDate(rule.DueDurationDays, rule.DueDurationHours, local); due != nil {
		s := due.UTC().Format(time.RFC3339)
		dueStr = &s
	}

	create := func(memberID *string) (string, error) {
		item := domain.WorkItem{
			ID:               uuid.NewString(),
			GroupID:          rule.GroupID,
			AssigneeID:       memberID,
			AssignedBy:       rule.CreatedBy,
			Title:            rule.Title,
			Description:      rule.Description,
			Reward:           rule.Reward,
			RequiresImage:    rule.RequiresImage,
			RequiresApproval: rule.RequiresApproval,
			DueDate:          dueStr,
			CreatedBy:        rule.CreatedBy,
			CreatedAt:        ts,
		}
		if err := e.Repo.InsertWorkItem(ctx, tx, item); err != nil {
			return "", err
		}
		if len(rule.Tags) > 0 {
			if err := e.Repo.AttachItemTags(ctx, tx, item.ID, rule.Tags); err != nil {
				return "", err
			}
		}
		return item.ID, nil
	}

	if assignee != nil {
		id, err := create(assignee)
		if err != nil {
			return nil, err
		}
		return &id, nil
	}

	targets, err := e.Repo.NonEditorMemberIDs(ctx, rule.GroupID)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("group %s has no assignable members", rule.GroupID)
	}
	var lastID string
	for _, memberID := range targets {
		id := memberID
		lastID, err = create(&id)
		if err != nil {
			return nil, err
		}
	}
	return &lastID, nil
}

// recordFailure writes the failed ledger row outside the rolled-back
// evaluation transaction so it survives the rollback.
func (e Engine) recordFailure(ctx context.Context, rule domain.ScheduledRule, now time.Time, evalErr error) {
	local := now.In(e.creatorLocation(ctx, rule))
	msg := evalErr.Error()
	rec := domain.ExecutionRecord{
		RuleID:       rule.ID,
		ExecutedAt:   now.UTC().Format(time.RFC3339),
		ExecutedDay:  local.Format(dayFormat),
		Status:       domain.OutcomeFailed,
		ErrorMessage: &msg,
	}
	if err := e.Ledger.AppendOutside(ctx, rec); err != nil {
		e.Log.Error().Err(err).Str("rule_id", rule.ID).Msg("record failed execution")
	}
	e.Log.Error().Err(evalErr).Str("rule_id", rule.ID).Msg("scheduled rule evaluation failed")
}

// creatorLocation resolves the rule creator's timezone, falling back to
// the configured default, then UTC.
func (e Engine) creatorLocation(ctx context.Context, rule domain.ScheduledRule) *time.Location {
	if m, err := e.Repo.GetMember(ctx, rule.CreatedBy); err == nil && m.Timezone != "" {
		loc, err := time.LoadLocation(m.Timezone)
		if err == nil {
			return loc
		}
		e.Log.Warn().Str("timezone", m.Timezone).Str("rule_id", rule.ID).Msg("unknown timezone, using default")
	}
	if e.Config != nil {
		return e.Config.Location()
	}
	return time.UTC
}
