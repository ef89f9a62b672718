package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"choreline/internal/domain"
	"choreline/internal/schedule"
)

// RuleCreateOptions are parameters for creating a scheduled rule.
type RuleCreateOptions struct {
	ID                       string
	GroupID                  string
	Title                    string
	Description              string
	Reward                   int
	RequiresImage            bool
	RequiresApproval         bool
	AutoAssign               bool
	AssignedMemberID         string
	DueDurationDays          int
	DueDurationHours         int
	SkipHolidays             bool
	MoveToNextBusinessDay    bool
	DeleteIncompletePrevious bool
	StartDate                string
	EndDate                  string
	Schedules                []schedule.Spec
	Tags                     []string
	CreatedBy                string
}

// CreateRule validates and persists a new rule with its tags. Malformed
// recurrence specs and invalid due offsets are rejected here so the
// evaluation engine never sees them.
func (e Engine) CreateRule(ctx context.Context, opts RuleCreateOptions) (domain.ScheduledRule, error) {
	if opts.Title == "" {
		return domain.ScheduledRule{}, errors.New("title is required")
	}
	if opts.GroupID == "" {
		return domain.ScheduledRule{}, errors.New("group is required")
	}
	if opts.Reward < 0 {
		return domain.ScheduledRule{}, errors.New("reward must not be negative")
	}
	if err := schedule.Validate(opts.Schedules); err != nil {
		return domain.ScheduledRule{}, err
	}
	if err := schedule.ValidateDueOffsets(opts.DueDurationDays, opts.DueDurationHours); err != nil {
		return domain.ScheduledRule{}, err
	}
	if _, err := e.Repo.GetGroup(ctx, opts.GroupID); err != nil {
		return domain.ScheduledRule{}, fmt.Errorf("group %s: %w", opts.GroupID, err)
	}
	creator, err := e.Repo.GetMember(ctx, opts.CreatedBy)
	if err != nil {
		return domain.ScheduledRule{}, fmt.Errorf("creator %s: %w", opts.CreatedBy, err)
	}
	if creator.GroupID != opts.GroupID {
		return domain.ScheduledRule{}, fmt.Errorf("creator %s not in group %s", opts.CreatedBy, opts.GroupID)
	}
	var assigned *string
	if opts.AssignedMemberID != "" {
		m, err := e.Repo.GetMember(ctx, opts.AssignedMemberID)
		if err != nil {
			return domain.ScheduledRule{}, fmt.Errorf("assignee %s: %w", opts.AssignedMemberID, err)
		}
		if m.GroupID != opts.GroupID {
			return domain.ScheduledRule{}, fmt.Errorf("assignee %s not in group %s", opts.AssignedMemberID, opts.GroupID)
		}
		assigned = &opts.AssignedMemberID
	}

	now := e.now().UTC().Format(time.RFC3339)
	start := opts.StartDate
	if start == "" {
		start = now
	} else if _, err := time.Parse(time.RFC3339, start); err != nil {
		return domain.ScheduledRule{}, fmt.Errorf("start date: %w", err)
	}
	var end *string
	if opts.EndDate != "" {
		if _, err := time.Parse(time.RFC3339, opts.EndDate); err != nil {
			return domain.ScheduledRule{}, fmt.Errorf("end date: %w", err)
		}
		if opts.EndDate < start {
			return domain.ScheduledRule{}, errors.New("end date before start date")
		}
		end = &opts.EndDate
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	rule := domain.ScheduledRule{
		ID:                       id,
		GroupID:                  opts.GroupID,
		Title:                    opts.Title,
		Description:              opts.Description,
		Reward:                   opts.Reward,
		RequiresImage:            opts.RequiresImage,
		RequiresApproval:         opts.RequiresApproval,
		AutoAssign:               opts.AutoAssign,
		AssignedMemberID:         assigned,
		DueDurationDays:          opts.DueDurationDays,
		DueDurationHours:         opts.DueDurationHours,
		SkipHolidays:             opts.SkipHolidays,
		MoveToNextBusinessDay:    opts.MoveToNextBusinessDay,
		DeleteIncompletePrevious: opts.DeleteIncompletePrevious,
		StartDate:                start,
		EndDate:                  end,
		Status:                   domain.RuleActive,
		Schedules:                opts.Schedules,
		CreatedBy:                opts.CreatedBy,
		CreatedAt:                now,
		UpdatedAt:                now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ScheduledRule{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRule(ctx, tx, rule); err != nil {
		return domain.ScheduledRule{}, err
	}
	if err := e.Repo.SyncTags(ctx, tx, rule.ID, opts.Tags); err != nil {
		return domain.ScheduledRule{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ScheduledRule{}, err
	}
	return e.Repo.GetRule(ctx, rule.ID)
}

// UpdateRule replaces a rule's editable fields and resyncs its tags.
// Status is managed through PauseRule/ResumeRule only.
func (e Engine) UpdateRule(ctx context.Context, rule domain.ScheduledRule) (domain.ScheduledRule, error) {
	if rule.Title == "" {
		return domain.ScheduledRule{}, errors.New("title is required")
	}
	if rule.Reward < 0 {
		return domain.ScheduledRule{}, errors.New("reward must not be negative")
	}
	if err := schedule.Validate(rule.Schedules); err != nil {
		return domain.ScheduledRule{}, err
	}
	if err := schedule.ValidateDueOffsets(rule.DueDurationDays, rule.DueDurationHours); err != nil {
		return domain.ScheduledRule{}, err
	}
	if _, err := time.Parse(time.RFC3339, rule.StartDate); err != nil {
		return domain.ScheduledRule{}, fmt.Errorf("start date: %w", err)
	}
	if rule.EndDate != nil {
		if _, err := time.Parse(time.RFC3339, *rule.EndDate); err != nil {
			return domain.ScheduledRule{}, fmt.Errorf("end date: %w", err)
		}
		if *rule.EndDate < rule.StartDate {
			return domain.ScheduledRule{}, errors.New("end date before start date")
		}
	}
	rule.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ScheduledRule{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateRule(ctx, tx, rule); err != nil {
		return domain.ScheduledRule{}, err
	}
	if err := e.Repo.SyncTags(ctx, tx, rule.ID, rule.Tags); err != nil {
		return domain.ScheduledRule{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ScheduledRule{}, err
	}
	return e.Repo.GetRule(ctx, rule.ID)
}

func (e Engine) PauseRule(ctx context.Context, id string) error {
	return e.Repo.SetRuleStatus(ctx, id, domain.RulePaused, e.now().UTC().Format(time.RFC3339))
}

func (e Engine) ResumeRule(ctx context.Context, id string) error {
	return e.Repo.SetRuleStatus(ctx, id, domain.RuleActive, e.now().UTC().Format(time.RFC3339))
}

func (e Engine) DeleteRule(ctx context.Context, id string) error {
	return e.Repo.DeleteRule(ctx, id)
}

// ExecutionHistory returns the newest ledger rows for a rule.
func (e Engine) ExecutionHistory(ctx context.Context, ruleID string, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 && e.Config != nil {
		limit = e.Config.Defaults.HistoryLimit
	}
	return e.Ledger.History(ctx, ruleID, limit)
}

// CreateGroup registers a group.
func (e Engine) CreateGroup(ctx context.Context, id, name string) (domain.Group, error) {
	if name == "" {
		return domain.Group{}, errors.New("name is required")
	}
	if id == "" {
		id = uuid.NewString()
	}
	g := domain.Group{ID: id, Name: name, CreatedAt: e.now().UTC().Format(time.RFC3339)}
	if err := e.Repo.InsertGroup(ctx, g); err != nil {
		return domain.Group{}, err
	}
	return g, nil
}

// AddMember registers a member. Role defaults to member; timezone may be
// empty, in which case the configured default applies at evaluation time.
func (e Engine) AddMember(ctx context.Context, groupID, id, name, role, timezone string) (domain.Member, error) {
	if name == "" {
		return domain.Member{}, errors.New("name is required")
	}
	if _, err := e.Repo.GetGroup(ctx, groupID); err != nil {
		return domain.Member{}, fmt.Errorf("group %s: %w", groupID, err)
	}
	switch role {
	case "":
		role = domain.RoleMember
	case domain.RoleMember, domain.RoleEditor:
	default:
		return domain.Member{}, fmt.Errorf("unknown role %q", role)
	}
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return domain.Member{}, fmt.Errorf("timezone %q: %w", timezone, err)
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	m := domain.Member{
		ID: id, GroupID: groupID, Name: name, Role: role, Timezone: timezone,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertMember(ctx, m); err != nil {
		return domain.Member{}, err
	}
	return m, nil
}
