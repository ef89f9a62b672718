package domain

import "choreline/internal/schedule"

const (
	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

const (
	RuleActive = "active"
	RulePaused = "paused"
)

const (
	RoleEditor = "editor"
	RoleMember = "member"
)

type Group struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

type Member struct {
	ID        string `json:"id"`
	GroupID   string `json:"group_id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Timezone  string `json:"timezone,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ScheduledRule is a recurring work-item template. The engine treats it as
// read-only apart from pause/resume, which only flip Status/PausedAt.
type ScheduledRule struct {
	ID                       string          `json:"id"`
	GroupID                  string          `json:"group_id"`
	Title                    string          `json:"title"`
	Description              string          `json:"description,omitempty"`
	Reward                   int             `json:"reward"`
	RequiresImage            bool            `json:"requires_image"`
	RequiresApproval         bool            `json:"requires_approval"`
	AutoAssign               bool            `json:"auto_assign"`
	AssignedMemberID         *string         `json:"assigned_member_id,omitempty"`
	DueDurationDays          int             `json:"due_duration_days"`
	DueDurationHours         int             `json:"due_duration_hours"`
	SkipHolidays             bool            `json:"skip_holidays"`
	MoveToNextBusinessDay    bool            `json:"move_to_next_business_day"`
	DeleteIncompletePrevious bool            `json:"delete_incomplete_previous"`
	StartDate                string          `json:"start_date"`
	EndDate                  *string         `json:"end_date,omitempty"`
	Status                   string          `json:"status"`
	PausedAt                 *string         `json:"paused_at,omitempty"`
	Schedules                []schedule.Spec `json:"schedules"`
	Tags                     []string        `json:"tags,omitempty"`
	CreatedBy                string          `json:"created_by"`
	CreatedAt                string          `json:"created_at"`
	UpdatedAt                string          `json:"updated_at"`
}

// ExecutionRecord is one immutable ledger row per rule evaluation that
// reached a fire/skip/fail decision. Never mutated, never deleted.
type ExecutionRecord struct {
	ID            int64   `json:"id"`
	RuleID        string  `json:"rule_id"`
	ExecutedAt    string  `json:"executed_at"`
	ExecutedDay   string  `json:"executed_day"`
	Status        string  `json:"status"`
	CreatedItemID *string `json:"created_item_id,omitempty"`
	DeletedItemID *string `json:"deleted_item_id,omitempty"`
	Note          string  `json:"note,omitempty"`
	ErrorMessage  *string `json:"error_message,omitempty"`
}

type WorkItem struct {
	ID               string  `json:"id"`
	GroupID          string  `json:"group_id"`
	AssigneeID       *string `json:"assignee_id,omitempty"`
	AssignedBy       string  `json:"assigned_by,omitempty"`
	Title            string  `json:"title"`
	Description      string  `json:"description,omitempty"`
	Reward           int     `json:"reward"`
	RequiresImage    bool    `json:"requires_image"`
	RequiresApproval bool    `json:"requires_approval"`
	DueDate          *string `json:"due_date,omitempty"`
	CompletedAt      *string `json:"completed_at,omitempty"`
	DeletedAt        *string `json:"deleted_at,omitempty"`
	CreatedBy        string  `json:"created_by"`
	CreatedAt        string  `json:"created_at"`
}

// Deferral is a pending business-day reschedule for a rule whose recurrence
// matched on a holiday with move_to_next_business_day set.
type Deferral struct {
	ID         int64   `json:"id"`
	RuleID     string  `json:"rule_id"`
	FireDate   string  `json:"fire_date"`
	FireTime   string  `json:"fire_time"`
	CreatedAt  string  `json:"created_at"`
	ConsumedAt *string `json:"consumed_at,omitempty"`
}

// BatchResult aggregates one ExecuteScheduledTasks invocation.
type BatchResult struct {
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (b *BatchResult) Count(outcome string) {
	switch outcome {
	case OutcomeSuccess:
		b.Succeeded++
	case OutcomeFailed:
		b.Failed++
	default:
		b.Skipped++
	}
}
