package engine_test

import (
	"context"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"choreline/internal/config"
	"choreline/internal/db"
	"choreline/internal/domain"
	"choreline/internal/engine"
	"choreline/internal/migrate"
	"choreline/internal/schedule"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default(), zerolog.Nop())
	eng.Now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	eng.Rand = rand.New(rand.NewSource(7))
	return testEnv{Engine: eng, Ctx: context.Background()}
}

// seedFamily creates group fam with editor ed and two plain members.
func (env testEnv) seedFamily(t *testing.T) {
	t.Helper()
	if _, err := env.Engine.CreateGroup(env.Ctx, "fam", "Family"); err != nil {
		t.Fatalf("create group: %v", err)
	}
	for _, m := range []struct{ id, role string }{
		{"ed", domain.RoleEditor},
		{"kid-a", domain.RoleMember},
		{"kid-b", domain.RoleMember},
		{"kid-c", domain.RoleMember},
	} {
		if _, err := env.Engine.AddMember(env.Ctx, "fam", m.id, m.id, m.role, ""); err != nil {
			t.Fatalf("add member %s: %v", m.id, err)
		}
	}
}

func daily(at string) []schedule.Spec {
	return []schedule.Spec{{Type: schedule.TypeDaily, Time: at}}
}

func (env testEnv) mustCreateRule(t *testing.T, opts engine.RuleCreateOptions) domain.ScheduledRule {
	t.Helper()
	if opts.GroupID == "" {
		opts.GroupID = "fam"
	}
	if opts.CreatedBy == "" {
		opts.CreatedBy = "ed"
	}
	if opts.Title == "" {
		opts.Title = "Take out trash"
	}
	if opts.Schedules == nil {
		opts.Schedules = daily("07:00")
	}
	rule, err := env.Engine.CreateRule(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return rule
}

func (env testEnv) run(t *testing.T, at time.Time) domain.BatchResult {
	t.Helper()
	result, err := env.Engine.ExecuteScheduledTasks(env.Ctx, at)
	if err != nil {
		t.Fatalf("execute batch: %v", err)
	}
	return result
}

func (env testEnv) items(t *testing.T, groupID string) []domain.WorkItem {
	t.Helper()
	items, err := env.Engine.Repo.ListWorkItemsByGroup(env.Ctx, groupID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	return items
}

func (env testEnv) history(t *testing.T, ruleID string) []domain.ExecutionRecord {
	t.Helper()
	records, err := env.Engine.ExecutionHistory(env.Ctx, ruleID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return records
}

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestDailyRuleCreatesWorkItem(t *testing.T) {
	env := newTestEnv(t)
	env.seedFamily(t)
	rule := env.mustCreateRule(t, engine.RuleCreateOptions{AssignedMemberID: "kid-a", Reward: 5})

	result := env.run(t, utc(2025, 6, 2, 7, 0))
	if result.Succeeded != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v, want one success", result)
	}

	items := env.items(t, "fam")
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	item := items[0]
	if item.AssigneeID == nil || *item.AssigneeID != "kid-a" {
		t.Fatalf("assignee = %v, want kid-a", item.AssigneeID)
	}
	if item.Title != "Take out trash" || item.Reward != 5 {
		t.Fatalf("item fields not copied from rule: %+v", item)
	}
	if item.DueDate != nil {
		t.Fatalf("no due offsets configured, got due date %v", *item.DueDate)
	}

	records := env.history(t, rule.ID)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.Status != domain.OutcomeSuccess {
		t.Fatalf("status = %s", rec.Status)
	}
	if rec.CreatedItemID == nil || *rec.CreatedItemID != item.ID {
		t.Fatalf("record should point at the created item")
	}
	if rec.ExecutedDay != "2025-06-02" {
		t.Fatalf("executed day = %s", rec.ExecutedDay)
	}
}

func TestRunIsIdempotentWithinDay(t *testing.T) {
	env := newTestEnv(t)
	env.seedFamily(t)
	rule := env.mustCreateRule(t, engine.RuleCreateOptions{AssignedMemberID: "kid-a"})

	at := utc(2025, 6, 2, 7, 0)
	first := env.run(t, at)
	second := env.run(t, at)

	if first.Succeeded != 1 {
		t.Fatalf("first run = %+v", first)
	}
	if second.Succeeded != 0 || second.Skipped != 1 {
		t.Fatalf("second run = %+v, want a skip", second)
	}
	if items := env.items(t, "fam"); len(items) != 1 {
		t.Fatalf("got %d items after rerun, want 1", len(items))
	}
	// Next day is a fresh slate.
	third := env.run(t, utc(2025, 6, 3, 7, 0))
	if third.Succeeded != 1 {
		t.Fatalf("third run = %+v, want a success on the new day", third)
	}
	if records := env.history(t, rule.ID); len(records) != 2 {
		t.Fatalf("got %d success-bearing records, want 2", len(records))
	}
}

func TestNonMatchingMinuteLeavesNoTrace(t *testing.T) {
	env := newTestEnv(t)
	env.seedFamily(t)
	rule := env.mustCreateRule(t, engine.RuleCreateOptions{AssignedMemberID: "kid-a"})

	result := env.run(t, utc(2025, 6, 2, 7, 1))
	if result.Skipped != 1 || result.Succeeded != 0 {
		t.Fatalf("result = %+v, want one skip", result)
	}
	if items := env.items(t, "fam"); len(items) != 0 {
		t.Fatalf("no item should exist, got %d", len(items))
	}
	if records := env.history(t, rule.ID); len(records) != 0 {
		t.Fatalf("non-matching evaluations must not be ledgered, got %d records", len(records))
	}
}

func TestHolidaySkip(t *testing.T) {
	env := newTestEnv(t)
	env.seedFamily(t)
	rule := env.mustCreateRule(t, engine.RuleCreateOptions{AssignedMemberID: "kid-a", SkipHolidays: true})
	if err := env.Engine.Holidays.Upsert(env.Ctx, "2025-06-02", "Founding Day"); err != nil {
		t.Fatalf("upsert holiday: %v", err)
	}

	result := env.run(t, utc(2025, 6, 2, 7, 0))
	if result.Skipped != 1 || result.Succeeded != 0 {
		t.Fatalf("result = %+v, want one skip", result)
	}
	records := env.history(t, rule.ID)
	if len(records) != 1 || records[0].Status != domain.OutcomeSkipped || records[0].Note != "holiday" {
		t.Fatalf("records = %+v, want one holiday skip", records)
	}
	if items := env.items(t, "fam"); len(items) != 0 {
		t.Fatalf("holiday skip must not create items")
	}

	// The day after the holiday fires normally.
	after := env.run(t, utc(2025, 6, 3, 7, 0))
	if after.Succeeded != 1 {
		t.Fatalf("day after holiday = %+v", after)
	}
}

func TestHolidayMovesToNextBusinessDay(t *testing.T) {
	env := newTestEnv(t)
	env.seedFamily(t)
	rule := env.mustCreateRule(t, engine.RuleCreateOptions{AssignedMemberID: "kid-a", MoveToNextBusinessDay: true})
	// 2025-06-02 is a Monday; the next business day is Tuesday the 3rd.
	if err := env.Engine.Holidays.Upsert(env.Ctx, "2025-06-02", "Founding Day"); err != nil {
		t.Fatalf("upsert holiday: %v", err)
	}

	monday := env.run(t, utc(2025, 6, 2, 7, 0))
	if monday.Skipped != 1 || monday.Succeeded != 0 {
		t.Fatalf("holiday run = %+v, want one skip", monday)
	}
	if items := env.items(t, "fam"); len(items) != 0 {
		t.Fatalf("nothing should fire on the holiday itself")
	}

	tuesday := env.run(t, utc(2025, 6, 3, 7, 0))
	// The deferral fires, then the regular daily match is suppressed by
	// the per-day gate.
	if tuesday.Succeeded != 1 {
		t.Fatalf("business day run = %+v, want one success", tuesday)
	}
	if items := env.items(t, "fam"); len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}

	var moved bool
	for _, rec := range env.history(t, rule.ID) {
		if rec.Status == domain.OutcomeSkipped && strings.Contains(rec.Note, "moved to next business day 2025-06-03") {
			moved = true
		}
	}
	if !moved {
		t.Fatal("want a skip record naming the rescheduled business day")
	}
}

func TestMalformedDatesNeverCreateSilentRules(t *testing.T) {
	env := newTestEnv(t)
	env.seedFamily(t)

	_, err := env.Engine.CreateRule(env.Ctx, engine.RuleCreateOptions{
		GroupID: "fam", Title: "x", CreatedBy: "ed",
		AssignedMemberID: "kid-a", Schedules: daily("07:00"),
		StartDate: "June 1st 2025",
	})
	if err == nil {
		t.Fatal("a start date that is not RFC3339 must be rejected at creation")
	}

	// Nothing slipped into storage to sit there and never fire.
	rules, err := env.Engine.Repo.ListRulesByGroup(env.Ctx, "fam")
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 0 {
		t.Fatalf("got %d rules, want none", len(rules))
	}
	result := env.run(t, utc(2025, 6, 2, 7, 0))
	if result.Succeeded != 0 || result.Skipped != 0 || result.Failed != 0 {
		t.Fatalf("result = %+v, want an empty batch", result)
	}
}

func TestDeferralExpiresWithRule(t *testing.T) {
	env := newTestEnv(t)
	env.seedFamily(t)
	// The rule's window closes right after the holiday.
	rule := env.mustCreateRule(t, engine.RuleCreateOptions{
		AssignedMemberID: "kid-a", MoveToNextBusinessDay: true,
		StartDate: "2025-06-01T00:00:00Z", EndDate: "2025-06-02T23:59:59Z",
	})
	if err := env.Engine.Holidays.Upsert(env.Ctx, "2025-06-02", "Founding Day"); err != nil {
		t.Fatal(err)
	}

	monday := env.run(t, utc(2025, 6, 2, 7, 0))
	if monday.Skipped != 1 {
		t.Fatalf("holiday run = %+v, want a deferral skip", monday)
	}

	tuesday := env.run(t, utc(2025, 6, 3, 7, 0))
	if tuesday.Succeeded != 0 || tuesday.Failed != 0 {
		t.Fatalf("deferral outlived the rule's window: %+v", tuesday)
	}
	if items := env.items(t, "fam"); len(items) != 0 {
		t.Fatalf("got %d items, want none after the window closed", len(items))
	}

	// The deferral was consumed, not left pending forever.
	pending, err := env.Engine.Repo.DueDeferrals(env.Ctx, "2025-06-30")
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range pending {
		if d.RuleID == rule.ID {
			t.Fatalf("deferral %d still pending", d.ID)
		}
	}
}

func TestValidityWindow(t *testing.T) {
	env := newTestEnv(t)
	env.seedFamily(t)
	future := "2025-07-01T00:00:00Z"
	expiredEnd := "2025-05-31T00:00:00Z"
	env.mustCreateRule(t, engine.RuleCreateOptions{
		ID: "not-yet", AssignedMemberID: "kid-a", StartDate: future,
	})
	env.mustCreateRule(t, engine.RuleCreateOptions{
		ID: "expired", AssignedMemberID: "kid-a",
		StartDate: "2025-05-01T00:00:00Z", EndDate: expiredEnd,
	})

	result := env.run(t, utc(2025, 6, 2, 7, 0))
	if result.Succeeded != 0 || result.Skipped != 0 || result.Failed != 0 {
		t.Fatalf("rules outside their window must not even be evaluated, got %+v", result)
	}
}

func TestPausedRuleDoesNotRun(t *testing.T) {
	env := newTestEnv(t)
	env.seedFamily(t)
	rule := env.mustCreateRule(t, engine.RuleCreateOptions{AssignedMemberID: "kid-a"})

	if err := env.Engine.PauseRule(env.Ctx, rule.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	paused := env.run(t, utc(2025, 6, 2, 7, 0))
	if paused.Succeeded != 0 || paused.Skipped != 0 {
		t.Fatalf("paused rule ran: %+v", paused)
	}

	if err := env.Engine.ResumeRule(env.Ctx, rule.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	resumed := env.run(t, utc(2025, 6, 3, 7, 0))
	if resumed.Succeeded != 1 {
		t.Fatalf("resumed rule did not run: %+v", resumed)
	}
}

func TestPreviousIncompleteItemRemoved(t *testing.T) {
	env := newTestEnv(t)
	env.seedFamily(t)
	rule := env.mustCreateRule(t, engine.RuleCreateOptions{AssignedMemberID: "kid-a", DeleteIncompletePrevious: true})

	env.run(t, utc(2025, 6, 2, 7, 0))
	items := env.items(t, "fam")
	if len(items) != 1 {
		t.Fatalf("day one should create one item")
	}
	firstID := items[0].ID

	env.run(t, utc(2025, 6, 3, 7, 0))
	old, err := env.Engine.Repo.GetWorkItem(env.Ctx, firstID)
	if err != nil {
		t.Fatalf("get first item: %v", err)
	}
	if old.DeletedAt == nil {
		t.Fatal("yesterday's unfinished item should be soft-removed")
	}

	records := env.history(t, rule.ID)
	if records[0].DeletedItemID == nil || *records[0].DeletedItemID != firstID {
		t.Fatalf("newest record should name the removed item, got %+v", records[0])
	}
}

func TestPreviousCompletedItemKept(t *testing.T) {
	env := newTestEnv(t)
	env.seedFamily(t)
	rule := env.mustCreateRule(t, engine.RuleCreateOptions{AssignedMemberID: "kid-a", DeleteIncompletePrevious: true})

	env.run(t, utc(2025, 6, 2, 7, 0))
	firstID := env.items(t, "fam")[0].ID
	if err := env.Engine.Repo.CompleteWorkItem(env.Ctx, firstID, "2025-06-02T18:00:00Z"); err != nil {
		t.Fatalf("complete item: %v", err)
	}

	env.run(t, utc(2025, 6, 3, 7, 0))
	old, err := env.Engine.Repo.GetWorkItem(env.Ctx, firstID)
	if err != nil {
		t.Fatalf("get first item: %v", err)
	}
	if old.DeletedAt != nil {
		t.Fatal("completed items are history, not clutter; must not be removed")
	}
	records := env.history(t, rule.ID)
	if records[0].DeletedItemID != nil {
		t.Fatalf("nothing was removed, record says otherwise: %+v", records[0])
	}
}

func TestBroadcastToNonEditors(t *testing.T) {
	env := newTestEnv(t)
	env.seedFamily(t)
	rule := env.mustCreateRule(t, engine.RuleCreateOptions{Tags: []string{"chores", "weekly"}})

	result := env.run(t, utc(2025, 6, 2, 7, 0))
	if result.Succeeded != 1 {
		t.Fatalf("result = %+v", result)
	}
	items := env.items(t, "fam")
	if len(items) != 3 {
		t.Fatalf("got %d items, want one per non-editor member", len(items))
	}
	seen := map[string]bool{}
	for _, item := range items {
		if item.AssigneeID == nil {
			t.Fatal("broadcast items must carry an assignee")
		}
		seen[*item.AssigneeID] = true
		tags, err := env.Engine.Repo.WorkItemTagNames(env.Ctx, item.ID)
		if err != nil {
			t.Fatalf("item tags: %v", err)
		}
		if len(tags) != 2 {
			t.Fatalf("item %s tags = %v, want the rule's two tags", item.ID, tags)
		}
	}
	if seen["ed"] {
		t.Fatal("editors must not receive broadcast items")
	}
	if !seen["kid-a"] || !seen["kid-b"] || !seen["kid-c"] {
		t.Fatalf("broadcast targets = %v", seen)
	}

	records := env.history(t, rule.ID)
	if len(records) != 1 || records[0].CreatedItemID == nil {
		t.Fatalf("want one success record carrying an item id, got %+v", records)
	}
}

func TestBroadcastWithoutTargetsFails(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateGroup(env.Ctx, "solo", "Solo"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddMember(env.Ctx, "solo", "boss", "boss", domain.RoleEditor, ""); err != nil {
		t.Fatal(err)
	}
	rule := env.mustCreateRule(t, engine.RuleCreateOptions{GroupID: "solo", CreatedBy: "boss"})

	result := env.run(t, utc(2025, 6, 2, 7, 0))
	if result.Failed != 1 {
		t.Fatalf("result = %+v, want one failure", result)
	}
	if items := env.items(t, "solo"); len(items) != 0 {
		t.Fatal("failed evaluation must not leave items behind")
	}
	records := env.history(t, rule.ID)
	if len(records) != 1 || records[0].Status != domain.OutcomeFailed {
		t.Fatalf("records = %+v, want one failure", records)
	}
	if records[0].ErrorMessage == nil || !strings.Contains(*records[0].ErrorMessage, "no assignable members") {
		t.Fatalf("error message = %v", records[0].ErrorMessage)
	}
}

func TestFailureDoesNotAbortBatch(t *testing.T) {
	env := newTestEnv(t)
	env.seedFamily(t)
	if _, err := env.Engine.CreateGroup(env.Ctx, "solo", "Solo"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddMember(env.Ctx, "solo", "boss", "boss", domain.RoleEditor, ""); err != nil {
		t.Fatal(err)
	}
	// The failing rule sorts first so the healthy one proves the batch
	// kept going.
	env.mustCreateRule(t, engine.RuleCreateOptions{ID: "a-fails", GroupID: "solo", CreatedBy: "boss"})
	env.mustCreateRule(t, engine.RuleCreateOptions{ID: "b-works", AssignedMemberID: "kid-a"})

	result := env.run(t, utc(2025, 6, 2, 7, 0))
	if result.Failed != 1 || result.Succeeded != 1 {
		t.Fatalf("result = %+v, want {failed:1 succeeded:1}", result)
	}
	if items := env.items(t, "fam"); len(items) != 1 {
		t.Fatalf("healthy rule should still have fired")
	}
}

func TestAutoAssignPicksGroupMember(t *testing.T) {
	env := newTestEnv(t)
	env.seedFamily(t)
	env.mustCreateRule(t, engine.RuleCreateOptions{AutoAssign: true})

	env.run(t, utc(2025, 6, 2, 7, 0))
	items := env.items(t, "fam")
	if len(items) != 1 {
		t.Fatalf("auto-assign should create exactly one item, got %d", len(items))
	}
	if items[0].AssigneeID == nil {
		t.Fatal("auto-assigned item must carry an assignee")
	}
	switch *items[0].AssigneeID {
	case "ed", "kid-a", "kid-b", "kid-c":
	default:
		t.Fatalf("assignee %s is not in the group", *items[0].AssigneeID)
	}
}

func TestTakeOutTrashScenario(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateGroup(env.Ctx, "home", "Home"); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"alice", "bob"} {
		if _, err := env.Engine.AddMember(env.Ctx, "home", id, id, domain.RoleMember, ""); err != nil {
			t.Fatal(err)
		}
	}
	rule := env.mustCreateRule(t, engine.RuleCreateOptions{
		GroupID: "home", CreatedBy: "alice", Title: "Take out trash",
		Reward: 10, AutoAssign: true,
		StartDate: "2025-02-01T00:00:00Z",
		Schedules: daily("07:00"),
	})

	at := utc(2025, 3, 1, 7, 0)
	if result := env.run(t, at); result.Succeeded != 1 {
		t.Fatalf("first trigger = %+v", result)
	}
	// Duplicate trigger on the same minute.
	if result := env.run(t, at); result.Succeeded != 0 {
		t.Fatalf("duplicate trigger fired again: %+v", result)
	}

	items := env.items(t, "home")
	if len(items) != 1 {
		t.Fatalf("got %d items, want exactly 1", len(items))
	}
	if items[0].Reward != 10 {
		t.Fatalf("reward = %d", items[0].Reward)
	}
	if a := items[0].AssigneeID; a == nil || (*a != "alice" && *a != "bob") {
		t.Fatalf("assignee = %v, want one of the two members", a)
	}
	var successes int
	for _, rec := range env.history(t, rule.ID) {
		if rec.Status == domain.OutcomeSuccess {
			successes++
		}
	}
	if successes != 1 {
		t.Fatalf("got %d success records, want 1", successes)
	}
}

func TestDueDateOffsets(t *testing.T) {
	env := newTestEnv(t)
	env.seedFamily(t)
	env.mustCreateRule(t, engine.RuleCreateOptions{
		AssignedMemberID: "kid-a", DueDurationDays: 1, DueDurationHours: 2,
	})

	env.run(t, utc(2025, 6, 2, 7, 0))
	items := env.items(t, "fam")
	if len(items) != 1 || items[0].DueDate == nil {
		t.Fatalf("want one item with a due date, got %+v", items)
	}
	if got := *items[0].DueDate; got != "2025-06-03T09:00:00Z" {
		t.Fatalf("due date = %s, want 2025-06-03T09:00:00Z", got)
	}
}

func TestEvaluationUsesCreatorTimezone(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateGroup(env.Ctx, "fam", "Family"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddMember(env.Ctx, "fam", "tok", "tok", domain.RoleEditor, "Asia/Tokyo"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddMember(env.Ctx, "fam", "kid-a", "kid-a", domain.RoleMember, ""); err != nil {
		t.Fatal(err)
	}
	rule := env.mustCreateRule(t, engine.RuleCreateOptions{CreatedBy: "tok", AssignedMemberID: "kid-a"})

	// 22:00 UTC on June 1st is 07:00 JST on June 2nd.
	result := env.run(t, utc(2025, 6, 1, 22, 0))
	if result.Succeeded != 1 {
		t.Fatalf("result = %+v, want a fire at the creator's local 07:00", result)
	}
	records := env.history(t, rule.ID)
	if records[0].ExecutedDay != "2025-06-02" {
		t.Fatalf("executed day = %s, want the creator-local calendar day", records[0].ExecutedDay)
	}

	// The same wall-clock minute in UTC does not match.
	later := env.run(t, utc(2025, 6, 2, 7, 0))
	if later.Succeeded != 0 {
		t.Fatalf("07:00 UTC is 16:00 JST, must not fire: %+v", later)
	}
}

func TestCreateRuleValidation(t *testing.T) {
	env := newTestEnv(t)
	env.seedFamily(t)

	cases := []struct {
		name string
		opts engine.RuleCreateOptions
	}{
		{"no schedules", engine.RuleCreateOptions{
			GroupID: "fam", Title: "x", CreatedBy: "ed", Schedules: []schedule.Spec{},
		}},
		{"bad time", engine.RuleCreateOptions{
			GroupID: "fam", Title: "x", CreatedBy: "ed",
			Schedules: []schedule.Spec{{Type: schedule.TypeDaily, Time: "7am"}},
		}},
		{"negative reward", engine.RuleCreateOptions{
			GroupID: "fam", Title: "x", CreatedBy: "ed", Reward: -1, Schedules: daily("07:00"),
		}},
		{"negative due offset", engine.RuleCreateOptions{
			GroupID: "fam", Title: "x", CreatedBy: "ed", DueDurationDays: -1, Schedules: daily("07:00"),
		}},
		{"unknown group", engine.RuleCreateOptions{
			GroupID: "ghost", Title: "x", CreatedBy: "ed", Schedules: daily("07:00"),
		}},
		{"creator outside group", engine.RuleCreateOptions{
			GroupID: "fam", Title: "x", CreatedBy: "stranger", Schedules: daily("07:00"),
		}},
		{"assignee outside group", engine.RuleCreateOptions{
			GroupID: "fam", Title: "x", CreatedBy: "ed", AssignedMemberID: "stranger", Schedules: daily("07:00"),
		}},
		{"end before start", engine.RuleCreateOptions{
			GroupID: "fam", Title: "x", CreatedBy: "ed", Schedules: daily("07:00"),
			StartDate: "2025-06-01T00:00:00Z", EndDate: "2025-05-01T00:00:00Z",
		}},
		{"malformed start date", engine.RuleCreateOptions{
			GroupID: "fam", Title: "x", CreatedBy: "ed", Schedules: daily("07:00"),
			StartDate: "June 1st 2025",
		}},
		{"malformed end date", engine.RuleCreateOptions{
			GroupID: "fam", Title: "x", CreatedBy: "ed", Schedules: daily("07:00"),
			EndDate: "tomorrow",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.Engine.CreateRule(env.Ctx, tc.opts); err == nil {
				t.Fatal("want an error")
			}
		})
	}
}

func TestUpdateRuleResyncsTagsAndSchedules(t *testing.T) {
	env := newTestEnv(t)
	env.seedFamily(t)
	rule := env.mustCreateRule(t, engine.RuleCreateOptions{
		AssignedMemberID: "kid-a", Tags: []string{"old"},
	})

	rule.Title = "Water the plants"
	rule.Tags = []string{"garden", "daily"}
	rule.Schedules = []schedule.Spec{{Type: schedule.TypeWeekly, Time: "08:00", Days: []int{6}}}
	updated, err := env.Engine.UpdateRule(env.Ctx, rule)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "Water the plants" {
		t.Fatalf("title = %s", updated.Title)
	}
	if len(updated.Tags) != 2 || updated.Tags[0] != "daily" || updated.Tags[1] != "garden" {
		t.Fatalf("tags = %v, want the replaced set", updated.Tags)
	}
	if len(updated.Schedules) != 1 || updated.Schedules[0].Type != schedule.TypeWeekly {
		t.Fatalf("schedules = %+v", updated.Schedules)
	}

	// The old daily 07:00 no longer fires; Saturday 08:00 does.
	if result := env.run(t, utc(2025, 6, 2, 7, 0)); result.Succeeded != 0 {
		t.Fatalf("stale schedule fired: %+v", result)
	}
	// 2025-06-07 is a Saturday.
	if result := env.run(t, utc(2025, 6, 7, 8, 0)); result.Succeeded != 1 {
		t.Fatalf("new schedule did not fire: %+v", result)
	}

	rule.Schedules = nil
	if _, err := env.Engine.UpdateRule(env.Ctx, rule); err == nil {
		t.Fatal("update must revalidate schedules")
	}

	rule = updated
	rule.StartDate = "June 1st 2025"
	if _, err := env.Engine.UpdateRule(env.Ctx, rule); err == nil {
		t.Fatal("update must reject a malformed start date")
	}
}

func TestImportHolidays(t *testing.T) {
	env := newTestEnv(t)
	data := []byte("holidays:\n  2025-01-01: \"New Year's Day\"\n  2025-12-25: Christmas\n")
	n, err := env.Engine.ImportHolidays(env.Ctx, data)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 2 {
		t.Fatalf("imported %d, want 2", n)
	}
	days, err := env.Engine.Holidays.List(env.Ctx, "2025-01-01", "2025-12-31")
	if err != nil {
		t.Fatal(err)
	}
	if days["2025-12-25"] != "Christmas" {
		t.Fatalf("days = %v", days)
	}

	if _, err := env.Engine.ImportHolidays(env.Ctx, []byte("nothing: here\n")); err == nil {
		t.Fatal("file without holidays entries must be rejected")
	}
}
