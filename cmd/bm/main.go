package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bookmatch/internal/app"
	"bookmatch/internal/config"
	"bookmatch/internal/db"
	"bookmatch/internal/domain"
	"bookmatch/internal/engine"
	"bookmatch/internal/migrate"
	"bookmatch/internal/repo"
	"bookmatch/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bm",
	Short: "Bookmatch CLI",
	Long: `Bookmatch runs the daily matching and profile-unlock flow of a reading program.
Core concepts:
- Workspace: your .bookmatch directory with the database; configs live in the DB and are imported explicitly.
- Cohort: one membership cohort that owns participants, submissions, and matching days.
- Program day: reading proofs submitted before 2am local time count for the previous day.
- Target day: profile unlocks on a given day are governed by the matching record of the day before.
- Submissions: daily reading proofs; operators approve or reject them in review.
- Matching days: imported AI matching documents in any of their historical shapes.
- Unlock: a profile renders fully only for verified viewers looking at an assigned target.
- Event log: diary of changes, view with 'bm log tail'.`,
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
	viper.SetEnvPrefix("BOOKMATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("cohort", "", "cohort id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("cohort", rootCmd.PersistentFlags().Lookup("cohort"))
}

func registerCommands() {
	rootCmd.AddCommand(cohortCmd())
	rootCmd.AddCommand(configCommand())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(participantCmd())
	rootCmd.AddCommand(submissionCmd())
	rootCmd.AddCommand(matchingCmd())
	rootCmd.AddCommand(unlockCmd())
	rootCmd.AddCommand(libraryCmd())
	rootCmd.AddCommand(accessCmd())
	rootCmd.AddCommand(dayCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func cohortCmd() *cobra.Command {
	c := &cobra.Command{Use: "cohort", Short: "Manage cohorts"}
	c.AddCommand(cohortListCmd())
	c.AddCommand(cohortCreateCmd())
	c.AddCommand(cohortShowCmd())
	c.AddCommand(cohortUseCmd())
	return c
}

func cohortListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cohorts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListCohorts(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func cohortCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create cohort",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			c, err := e.InitCohort(cmd.Context(), id, name, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(c)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "cohort id")
	cmd.Flags().StringVar(&name, "name", "", "cohort name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func cohortShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a cohort",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetCohort(ctx, e.Config.Cohort.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func cohortUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current cohort for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cohortID := strings.TrimSpace(args[0])
			if cohortID == "" {
				return fmt.Errorf("cohort id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "BOOKMATCH_COHORT", cohortID); err != nil {
				return err
			}
			fmt.Printf("Set BOOKMATCH_COHORT=%s in %s/.env\n", cohortID, workspace)
			return nil
		},
	}
	return cmd
}

func configCommand() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect cohort config",
		Long:  "Config is the rulebook (stored in DB): cohort id, day cutoff offsets, matching balance thresholds, RBAC roles, and webhooks. Import from bookmatch.yml if desired.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import cohort config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			cohortID := cfg.Cohort.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if cohortID == "" {
					cohortID = e.Config.Cohort.ID
				}
				if err := e.Repo.UpsertCohortConfig(ctx, cohortID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configInitCmd() *cobra.Command {
	var cohortID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default bookmatch.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cohortID == "" {
				return fmt.Errorf("--id required")
			}
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(cohortID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&cohortID, "id", "", "cohort id")
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show cohort status",
		Long:  "See the scoreboard for your cohort: participant count, current program and target day, and the latest imported matching day.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cohortID := e.Config.Cohort.ID
				c, err := e.Repo.GetCohort(ctx, cohortID)
				if err != nil {
					return err
				}
				participants, err := e.Repo.ListParticipants(ctx, cohortID)
				if err != nil {
					return err
				}
				days, err := e.Repo.ListMatchingDayKeys(ctx, cohortID)
				if err != nil {
					return err
				}
				latest := ""
				if len(days) > 0 {
					latest = days[0]
				}
				now := time.Now()
				out := map[string]any{
					"cohort_id":     c.ID,
					"name":          c.Name,
					"participants":  len(participants),
					"matching_days": len(days),
					"latest_day":    latest,
					"program_day":   e.Rules.ProgramDay(now),
					"target_day":    e.Rules.MatchingTargetDay(now),
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Cohort: %s (%s)\n", c.ID, c.Name)
				fmt.Printf("Participants: %d\n", len(participants))
				fmt.Printf("Program day: %s, target day: %s\n", e.Rules.ProgramDay(now), e.Rules.MatchingTargetDay(now))
				if latest != "" {
					fmt.Printf("Matching days: %d (latest %s)\n", len(days), latest)
				} else {
					fmt.Println("Matching days: none imported")
				}
				return nil
			})
		},
	}
	return cmd
}

func participantCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "participant",
		Short: "Manage participants",
	}
	p.AddCommand(participantAddCmd())
	p.AddCommand(participantListCmd())
	p.AddCommand(participantShowCmd())
	p.AddCommand(participantUpdateCmd())
	p.AddCommand(participantRemoveCmd())
	p.AddCommand(participantNoteCmd())
	return p
}

func participantAddCmd() *cobra.Command {
	var opts engine.ParticipantCreateOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Enroll a participant",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.CohortID == "" {
					opts.CohortID = e.Config.Cohort.ID
				}
				p, err := e.AddParticipant(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "participant id (optional, deterministic UUID if omitted)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Gender, "gender", "", "gender (male, female, unknown)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func participantListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List participants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListParticipants(ctx, e.Config.Cohort.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Gender", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Gender, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func participantShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetParticipant(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func participantUpdateCmd() *cobra.Command {
	var name, gender string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var namePtr, genderPtr *string
				if cmd.Flags().Changed("name") {
					namePtr = &name
				}
				if cmd.Flags().Changed("gender") {
					genderPtr = &gender
				}
				if err := e.Repo.UpdateParticipant(ctx, id, namePtr, genderPtr); err != nil {
					return err
				}
				p, err := e.Repo.GetParticipant(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&gender, "gender", "", "gender (male, female, unknown)")
	return cmd
}

func participantRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteParticipant(ctx, id)
			})
		},
	}
	return cmd
}

func participantNoteCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "note <id>",
		Short: "Set or show a profile note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if cmd.Flags().Changed("set") {
					n, err := e.SetProfileNote(ctx, e.Config.Cohort.ID, id, note, viper.GetString("actor-id"))
					if err != nil {
						return err
					}
					return printJSONOrTable(n)
				}
				n, err := e.Repo.GetProfileNote(ctx, e.Config.Cohort.ID, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	cmd.Flags().StringVar(&note, "set", "", "note text to store")
	return cmd
}

func submissionCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "submission",
		Short: "Manage reading proofs",
		Long:  "Submissions are daily reading proofs. Attribution follows the 2am cutoff: a proof sent at 01:30 counts for the previous program day. Review moves draft -> approved/rejected.",
	}
	s.AddCommand(submissionRecordCmd())
	s.AddCommand(submissionListCmd())
	s.AddCommand(submissionShowCmd())
	s.AddCommand(submissionReviewCmd("approve", "Approve a submission", domain.SubmissionApproved))
	s.AddCommand(submissionReviewCmd("reject", "Reject a submission", domain.SubmissionRejected))
	return s
}

func submissionRecordCmd() *cobra.Command {
	var opts engine.SubmissionRecordOptions
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a reading proof",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.CohortID == "" {
					opts.CohortID = e.Config.Cohort.ID
				}
				s, err := e.RecordSubmission(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ParticipantID, "participant", "", "participant id")
	cmd.Flags().StringVar(&opts.SubmittedAt, "at", "", "submission instant (RFC3339, default now)")
	cmd.Flags().StringVar(&opts.Review, "review", "", "review text")
	cmd.Flags().StringVar(&opts.DailyAnswer, "answer", "", "daily question answer")
	_ = cmd.MarkFlagRequired("participant")
	return cmd
}

func submissionListCmd() *cobra.Command {
	var f repo.SubmissionFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.CohortID == "" {
					f.CohortID = e.Config.Cohort.ID
				}
				items, err := e.Repo.ListSubmissions(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Participant", "Day", "Status", "Submitted"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.ParticipantID, s.ProgramDay, s.Status, s.SubmittedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ParticipantID, "participant", "", "participant filter")
	cmd.Flags().StringVar(&f.ProgramDay, "day", "", "program day filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func submissionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Repo.GetSubmission(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func submissionReviewCmd(use, short, status string) *cobra.Command {
	var review string
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.SetSubmissionStatus(ctx, id, status, review, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&review, "review", "", "review text")
	return cmd
}

func matchingCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "matching",
		Short: "Manage matching days",
		Long:  "Matching documents arrive from the upstream clustering run in any of three historical shapes. Import stores them as-is; validate reports structural and balance violations without blocking unlock.",
	}
	m.AddCommand(matchingImportCmd())
	m.AddCommand(matchingListCmd())
	m.AddCommand(matchingShowCmd())
	m.AddCommand(matchingValidateCmd())
	m.AddCommand(matchingCheckInputsCmd())
	return m
}

func matchingImportCmd() *cobra.Command {
	var day, filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a matching document from JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			var raw domain.RawMatchingDay
			if err := json.Unmarshal(data, &raw); err != nil {
				return fmt.Errorf("invalid matching document: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.ImportMatching(ctx, engine.MatchingImportOptions{
					CohortID: e.Config.Cohort.ID,
					Day:      day,
					Raw:      raw,
					ActorID:  viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "matching day (YYYY-MM-DD, default: current target day)")
	cmd.Flags().StringVar(&filePath, "file", "", "path to matching JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func matchingListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List imported matching days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				days, err := e.Repo.ListMatchingDayKeys(ctx, e.Config.Cohort.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(days)
			})
		},
	}
	return cmd
}

func matchingShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <day>",
		Short: "Show a matching day with normalized assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, assignments, err := e.MatchingForDay(ctx, e.Config.Cohort.ID, day)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"day":         m.Day,
					"document":    m.Raw,
					"assignments": assignments,
				})
			})
		},
	}
	return cmd
}

func matchingValidateCmd() *cobra.Command {
	var persist bool
	cmd := &cobra.Command{
		Use:   "validate <day>",
		Short: "Validate a matching day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, run, err := e.ValidateMatching(ctx, engine.MatchingValidateOptions{
					CohortID: e.Config.Cohort.ID,
					Day:      day,
					Persist:  persist,
					ActorID:  viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					out := map[string]any{"report": report}
					if run != nil {
						out["run_id"] = run.ID
					}
					return printJSON(out)
				}
				if report.Valid {
					fmt.Printf("%s: OK (%d warnings)\n", day, len(report.Warnings))
				} else {
					fmt.Printf("%s: INVALID (%d errors, %d warnings)\n", day, len(report.Errors), len(report.Warnings))
				}
				for _, msg := range report.Errors {
					fmt.Printf("  error: %s\n", msg)
				}
				for _, msg := range report.Warnings {
					fmt.Printf("  warning: %s\n", msg)
				}
				if run != nil {
					fmt.Printf("run: %s\n", run.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&persist, "persist", false, "store the report as a validation run")
	return cmd
}

func matchingCheckInputsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-inputs",
		Short: "Check gender data before a matching run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				dist, err := e.CheckMatchingInputs(ctx, e.Config.Cohort.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(dist)
			})
		},
	}
	return cmd
}

func unlockCmd() *cobra.Command {
	var viewer, target, at string
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Evaluate profile unlock for a viewer-target pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viewer == "" || target == "" {
				return fmt.Errorf("--viewer and --target required")
			}
			instant, err := parseInstantFlag(at)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.EvaluateUnlock(ctx, e.Config.Cohort.ID, viewer, target, instant)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&viewer, "viewer", "", "viewer participant id")
	cmd.Flags().StringVar(&target, "target", "", "target participant id")
	cmd.Flags().StringVar(&at, "at", "", "evaluation instant (RFC3339, default now)")
	return cmd
}

func libraryCmd() *cobra.Command {
	var viewer, at string
	cmd := &cobra.Command{
		Use:   "library",
		Short: "Show a viewer's daily library",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viewer == "" {
				return fmt.Errorf("--viewer required")
			}
			instant, err := parseInstantFlag(at)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.Library(ctx, e.Config.Cohort.ID, viewer, instant)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				fmt.Printf("Program day %s, target day %s", view.ProgramDay, view.TargetDay)
				if view.MatchedDay != "" && view.MatchedDay != view.TargetDay {
					fmt.Printf(" (matched %s)", view.MatchedDay)
				}
				fmt.Println()
				if view.Cluster != nil {
					fmt.Printf("Cluster: %s\n", view.Cluster.Name)
				}
				fmt.Printf("Books: %d of %d open\n", view.Allowance.UnlockedBooks, view.Allowance.TotalBooks)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "State", "Note"})
				for _, entry := range view.Entries {
					tw.AppendRow(table.Row{entry.Participant.ID, entry.Participant.Name, entry.State, entry.Note})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&viewer, "viewer", "", "viewer participant id")
	cmd.Flags().StringVar(&at, "at", "", "evaluation instant (RFC3339, default now)")
	return cmd
}

func accessCmd() *cobra.Command {
	var viewer, at string
	cmd := &cobra.Command{
		Use:   "access",
		Short: "Show a viewer's access summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viewer == "" {
				return fmt.Errorf("--viewer required")
			}
			instant, err := parseInstantFlag(at)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sum, err := e.AccessSummaryFor(ctx, viewer, instant)
				if err != nil {
					return err
				}
				return printJSONOrTable(sum)
			})
		},
	}
	cmd.Flags().StringVar(&viewer, "viewer", "", "viewer participant id")
	cmd.Flags().StringVar(&at, "at", "", "evaluation instant (RFC3339, default now)")
	return cmd
}

func dayCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "day",
		Short: "Resolve program and target day for an instant",
		RunE: func(cmd *cobra.Command, args []string) error {
			instant, err := parseInstantFlag(at)
			if err != nil {
				return err
			}
			if instant.IsZero() {
				instant = time.Now()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(map[string]string{
					"program_day": e.Rules.ProgramDay(instant),
					"target_day":  e.Rules.MatchingTargetDay(instant),
				})
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "instant (RFC3339, default now)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: enrollments, submissions, reviews, imports, and validations.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Cohort.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + "/" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rbac",
		Short: "RBAC management",
	}
	cmd.AddCommand(rbacWhoamiCmd())
	cmd.AddCommand(rbacGrantCmd())
	cmd.AddCommand(rbacRevokeCmd())
	return cmd
}

func rbacWhoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show current actor role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				role, err := e.Repo.ActorRole(ctx, e.Config.Cohort.ID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				perms := []string{}
				if def, ok := e.Config.RBAC.Roles[role]; ok {
					perms = def.Permissions
				}
				return printJSONOrTable(map[string]any{
					"actor_id":    viper.GetString("actor-id"),
					"role":        role,
					"permissions": perms,
				})
			})
		},
	}
	return cmd
}

func rbacGrantCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Grant role to actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.AssignRole(ctx, e.Config.Cohort.ID, target, role, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func rbacRevokeCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "revoke-role",
		Short: "Revoke role from actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" {
				return fmt.Errorf("--actor required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RevokeRole(ctx, e.Config.Cohort.ID, target, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (secret shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, secret, err := e.CreateAPIKey(ctx, viper.GetString("actor-id"), name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"id":     key.ID,
					"name":   key.Name,
					"secret": secret,
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List own API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, id)
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveCohortAndConfig(cmd.Context(), workspace, viper.GetString("cohort"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("BOOKMATCH_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("BOOKMATCH_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Bookmatch API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveCohortAndConfig(ctx, workspace, viper.GetString("cohort"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseInstantFlag(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at: %w", err)
	}
	return at, nil
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
