package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"choreline/internal/app"
	"choreline/internal/config"
	"choreline/internal/db"
	"choreline/internal/engine"
	"choreline/internal/schedule"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Choreline CLI",
	Long: `Choreline turns recurring group chores into concrete work items.
Rules describe what should happen (daily/weekly/monthly at HH:MM, holiday
handling, assignment), the run command evaluates them against the clock,
and every fire/skip/fail decision lands in an append-only ledger.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CHORELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(groupCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(ruleCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(holidayCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(historyCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize workspace with a default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				fmt.Printf("initialized workspace at %s\n", path)
				return nil
			})
		},
	}
}

func groupCmd() *cobra.Command {
	grp := &cobra.Command{Use: "group", Short: "Manage groups"}

	var name, id string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.CreateGroup(ctx, id, name)
				if err != nil {
					return err
				}
				return printJSON(g)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "group name")
	create.Flags().StringVar(&id, "id", "", "group id (generated when empty)")
	_ = create.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				groups, err := e.Repo.ListGroups(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(groups)
				}
				t := newTable("ID", "NAME", "CREATED")
				for _, g := range groups {
					t.AppendRow(table.Row{g.ID, g.Name, g.CreatedAt})
				}
				t.Render()
				return nil
			})
		},
	}

	grp.AddCommand(create, list)
	return grp
}

func memberCmd() *cobra.Command {
	mem := &cobra.Command{Use: "member", Short: "Manage group members"}

	var group, id, name, role, timezone string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a member to a group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.AddMember(ctx, group, id, name, role, timezone)
				if err != nil {
					return err
				}
				return printJSON(m)
			})
		},
	}
	add.Flags().StringVar(&group, "group", "", "group id")
	add.Flags().StringVar(&id, "id", "", "member id (generated when empty)")
	add.Flags().StringVar(&name, "name", "", "member name")
	add.Flags().StringVar(&role, "role", "member", "role: editor or member")
	add.Flags().StringVar(&timezone, "timezone", "", "IANA timezone, e.g. Asia/Tokyo")
	_ = add.MarkFlagRequired("group")
	_ = add.MarkFlagRequired("name")

	var listGroup string
	list := &cobra.Command{
		Use:   "list",
		Short: "List group members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				members, err := e.Repo.ListMembers(ctx, listGroup)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(members)
				}
				t := newTable("ID", "NAME", "ROLE", "TIMEZONE")
				for _, m := range members {
					t.AppendRow(table.Row{m.ID, m.Name, m.Role, m.Timezone})
				}
				t.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listGroup, "group", "", "group id")
	_ = list.MarkFlagRequired("group")

	mem.AddCommand(add, list)
	return mem
}

func ruleCmd() *cobra.Command {
	rule := &cobra.Command{Use: "rule", Short: "Manage scheduled rules"}
	rule.AddCommand(ruleCreateCmd())
	rule.AddCommand(ruleUpdateCmd())
	rule.AddCommand(ruleListCmd())
	rule.AddCommand(ruleShowCmd())
	rule.AddCommand(ruleToggleCmd("pause", "Pause a rule"))
	rule.AddCommand(ruleToggleCmd("resume", "Resume a paused rule"))
	rule.AddCommand(ruleDeleteCmd())
	return rule
}

func ruleCreateCmd() *cobra.Command {
	var opts engine.RuleCreateOptions
	var daily, weekly, monthly, tags []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a scheduled rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := parseSpecFlags(daily, weekly, monthly)
			if err != nil {
				return err
			}
			opts.Schedules = specs
			opts.Tags = tags
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				created, err := e.CreateRule(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(created)
			})
		},
	}
	cmd.Flags().StringVar(&opts.GroupID, "group", "", "group id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "rule title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().IntVar(&opts.Reward, "reward", 0, "reward value")
	cmd.Flags().BoolVar(&opts.RequiresImage, "requires-image", false, "require a photo on completion")
	cmd.Flags().BoolVar(&opts.RequiresApproval, "requires-approval", false, "require approval on completion")
	cmd.Flags().BoolVar(&opts.AutoAssign, "auto-assign", false, "assign to a random group member")
	cmd.Flags().StringVar(&opts.AssignedMemberID, "assignee", "", "fixed assignee member id")
	cmd.Flags().IntVar(&opts.DueDurationDays, "due-days", 0, "due offset in days")
	cmd.Flags().IntVar(&opts.DueDurationHours, "due-hours", 0, "due offset in hours")
	cmd.Flags().BoolVar(&opts.SkipHolidays, "skip-holidays", false, "do not fire on holidays")
	cmd.Flags().BoolVar(&opts.MoveToNextBusinessDay, "move-to-business-day", false, "reschedule holiday firings to the next business day")
	cmd.Flags().BoolVar(&opts.DeleteIncompletePrevious, "delete-incomplete-previous", false, "soft-remove the previous unfinished item")
	cmd.Flags().StringVar(&opts.StartDate, "start", "", "validity window start (RFC3339, default now)")
	cmd.Flags().StringVar(&opts.EndDate, "end", "", "validity window end (RFC3339)")
	cmd.Flags().StringVar(&opts.CreatedBy, "created-by", "", "creator member id")
	cmd.Flags().StringArrayVar(&daily, "daily", nil, `daily schedule, e.g. "07:00"`)
	cmd.Flags().StringArrayVar(&weekly, "weekly", nil, `weekly schedule, e.g. "09:00@1,3,5" (0=Sun)`)
	cmd.Flags().StringArrayVar(&monthly, "monthly", nil, `monthly schedule, e.g. "09:00@1,15"`)
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag name (repeatable)")
	_ = cmd.MarkFlagRequired("group")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("created-by")
	return cmd
}

func ruleUpdateCmd() *cobra.Command {
	var title, description, assignee string
	var reward, dueDays, dueHours int
	var tags, daily, weekly, monthly []string
	cmd := &cobra.Command{
		Use:   "update <rule-id>",
		Short: "Update a rule's editable fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rule, err := e.Repo.GetRule(ctx, args[0])
				if err != nil {
					return err
				}
				f := cmd.Flags()
				if f.Changed("title") {
					rule.Title = title
				}
				if f.Changed("description") {
					rule.Description = description
				}
				if f.Changed("reward") {
					rule.Reward = reward
				}
				if f.Changed("due-days") {
					rule.DueDurationDays = dueDays
				}
				if f.Changed("due-hours") {
					rule.DueDurationHours = dueHours
				}
				if f.Changed("assignee") {
					if assignee == "" {
						rule.AssignedMemberID = nil
					} else {
						rule.AssignedMemberID = &assignee
					}
				}
				if f.Changed("tag") {
					rule.Tags = tags
				}
				if f.Changed("daily") || f.Changed("weekly") || f.Changed("monthly") {
					specs, err := parseSpecFlags(daily, weekly, monthly)
					if err != nil {
						return err
					}
					rule.Schedules = specs
				}
				updated, err := e.UpdateRule(ctx, rule)
				if err != nil {
					return err
				}
				return printJSON(updated)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "rule title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().IntVar(&reward, "reward", 0, "reward value")
	cmd.Flags().IntVar(&dueDays, "due-days", 0, "due offset in days")
	cmd.Flags().IntVar(&dueHours, "due-hours", 0, "due offset in hours")
	cmd.Flags().StringVar(&assignee, "assignee", "", "fixed assignee member id (empty clears it)")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag name (replaces the tag set)")
	cmd.Flags().StringArrayVar(&daily, "daily", nil, `daily schedule, e.g. "07:00" (replaces all schedules)`)
	cmd.Flags().StringArrayVar(&weekly, "weekly", nil, `weekly schedule, e.g. "09:00@1,3,5"`)
	cmd.Flags().StringArrayVar(&monthly, "monthly", nil, `monthly schedule, e.g. "09:00@1,15"`)
	return cmd
}

func ruleListCmd() *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a group's rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rules, err := e.Repo.ListRulesByGroup(ctx, group)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rules)
				}
				t := newTable("ID", "TITLE", "STATUS", "SCHEDULES", "TAGS")
				for _, r := range rules {
					t.AppendRow(table.Row{r.ID, r.Title, r.Status, formatSpecs(r.Schedules), strings.Join(r.Tags, ",")})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "group id")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}

func ruleShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <rule-id>",
		Short: "Show a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rule, err := e.Repo.GetRule(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(rule)
			})
		},
	}
}

func ruleToggleCmd(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <rule-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if use == "pause" {
					return e.PauseRule(ctx, args[0])
				}
				return e.ResumeRule(ctx, args[0])
			})
		},
	}
}

func ruleDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <rule-id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteRule(ctx, args[0])
			})
		},
	}
}

func itemCmd() *cobra.Command {
	item := &cobra.Command{Use: "item", Short: "Inspect and complete work items"}

	var group string
	list := &cobra.Command{
		Use:   "list",
		Short: "List a group's work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListWorkItemsByGroup(ctx, group)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("ID", "TITLE", "ASSIGNEE", "DUE", "COMPLETED", "REMOVED")
				for _, it := range items {
					t.AppendRow(table.Row{it.ID, it.Title, deref(it.AssigneeID), deref(it.DueDate), deref(it.CompletedAt), deref(it.DeletedAt)})
				}
				t.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&group, "group", "", "group id")
	_ = list.MarkFlagRequired("group")

	complete := &cobra.Command{
		Use:   "complete <item-id>",
		Short: "Mark a work item complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.CompleteWorkItem(ctx, args[0], time.Now().UTC().Format(time.RFC3339))
			})
		},
	}

	item.AddCommand(list, complete)
	return item
}

func holidayCmd() *cobra.Command {
	hol := &cobra.Command{Use: "holiday", Short: "Manage the holiday calendar"}

	var file string
	imp := &cobra.Command{
		Use:   "import",
		Short: "Import holidays from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.ImportHolidays(ctx, data)
				if err != nil {
					return err
				}
				fmt.Printf("imported %d holidays\n", n)
				return nil
			})
		},
	}
	imp.Flags().StringVar(&file, "file", "", "holiday yaml file")
	_ = imp.MarkFlagRequired("file")

	var from, to string
	list := &cobra.Command{
		Use:   "list",
		Short: "List holidays in a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				days, err := e.Holidays.List(ctx, from, to)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(days)
				}
				t := newTable("DATE", "NAME")
				for day, name := range days {
					t.AppendRow(table.Row{day, name})
				}
				t.SortBy([]table.SortBy{{Name: "DATE"}})
				t.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&from, "from", "0000-01-01", "start date (YYYY-MM-DD)")
	list.Flags().StringVar(&to, "to", "9999-12-31", "end date (YYYY-MM-DD)")

	next := &cobra.Command{
		Use:   "next-business-day <date>",
		Short: "Show the next business day after a date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := time.Parse("2006-01-02", args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				next, err := e.Holidays.NextBusinessDay(ctx, day)
				if err != nil {
					return err
				}
				fmt.Println(next.Format("2006-01-02"))
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <date>",
		Short: "Remove a holiday",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Holidays.Delete(ctx, args[0])
			})
		},
	}

	hol.AddCommand(imp, list, next, del)
	return hol
}

func runCmd() *cobra.Command {
	var at, every string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute scheduled rules once, or periodically with --every",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if every == "" {
					now := time.Now()
					if at != "" {
						parsed, err := time.Parse(time.RFC3339, at)
						if err != nil {
							return fmt.Errorf("--at: %w", err)
						}
						now = parsed
					}
					result, err := e.ExecuteScheduledTasks(ctx, now)
					if err != nil {
						return err
					}
					return printJSON(result)
				}

				c := cron.New()
				_, err := c.AddFunc(every, func() {
					if _, err := e.ExecuteScheduledTasks(ctx, time.Now()); err != nil {
						e.Log.Error().Err(err).Msg("batch run failed")
					}
				})
				if err != nil {
					return fmt.Errorf("--every: %w", err)
				}
				c.Start()
				<-ctx.Done()
				<-c.Stop().Done()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate as of this RFC3339 instant (default now)")
	cmd.Flags().StringVar(&every, "every", "", `cron spec for periodic runs, e.g. "* * * * *"`)
	return cmd
}

func historyCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "history <rule-id>",
		Short: "Show a rule's execution ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				records, err := e.ExecutionHistory(ctx, args[0], n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				t := newTable("EXECUTED", "STATUS", "CREATED ITEM", "DELETED ITEM", "NOTE")
				for _, r := range records {
					note := r.Note
					if r.ErrorMessage != nil {
						note = *r.ErrorMessage
					}
					t.AppendRow(table.Row{r.ExecutedAt, r.Status, deref(r.CreatedItemID), deref(r.DeletedItemID), note})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 0, "number of records (default from config)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	log := app.Logger(cfg)
	conn, e, err := app.Open(workspace, log)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

// parseSpecFlags turns --daily/--weekly/--monthly flag values into specs.
// Weekly and monthly use "HH:MM@n,n,..." with days of week (0=Sunday) or
// days of month respectively.
func parseSpecFlags(daily, weekly, monthly []string) ([]schedule.Spec, error) {
	var specs []schedule.Spec
	for _, v := range daily {
		specs = append(specs, schedule.Spec{Type: schedule.TypeDaily, Time: strings.TrimSpace(v)})
	}
	for _, v := range weekly {
		at, days, err := parseAtList(v)
		if err != nil {
			return nil, fmt.Errorf("--weekly %q: %w", v, err)
		}
		specs = append(specs, schedule.Spec{Type: schedule.TypeWeekly, Time: at, Days: days})
	}
	for _, v := range monthly {
		at, dates, err := parseAtList(v)
		if err != nil {
			return nil, fmt.Errorf("--monthly %q: %w", v, err)
		}
		specs = append(specs, schedule.Spec{Type: schedule.TypeMonthly, Time: at, Dates: dates})
	}
	return specs, nil
}

func parseAtList(v string) (string, []int, error) {
	at, list, ok := strings.Cut(v, "@")
	if !ok {
		return "", nil, fmt.Errorf(`want "HH:MM@n,n,..."`)
	}
	var nums []int
	for _, part := range strings.Split(list, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return "", nil, err
		}
		nums = append(nums, n)
	}
	return strings.TrimSpace(at), nums, nil
}

func formatSpecs(specs []schedule.Spec) string {
	var parts []string
	for _, s := range specs {
		switch s.Type {
		case schedule.TypeDaily:
			parts = append(parts, "daily "+s.Time)
		case schedule.TypeWeekly:
			parts = append(parts, fmt.Sprintf("weekly %s@%s", s.Time, joinInts(s.Days)))
		case schedule.TypeMonthly:
			parts = append(parts, fmt.Sprintf("monthly %s@%s", s.Time, joinInts(s.Dates)))
		}
	}
	return strings.Join(parts, "; ")
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}

func newTable(columns ...string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	row := make(table.Row, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	t.AppendHeader(row)
	return t
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
