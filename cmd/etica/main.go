package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"etica/internal/app"
	"etica/internal/assessment"
	"etica/internal/config"
	"etica/internal/detect"
	"etica/internal/domain"
	"etica/internal/engine"
	"etica/internal/repo"
	"etica/internal/scoring"
	"etica/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "etica",
	Short: "ETICA tension detector and vigilance scorer",
	Long: `etica reads an assessment document describing an AI system (its profile and
the data and decision flows between people, models and infrastructure), detects the
ethical tensions it implies and scores how much vigilance each ethical domain needs.
- Tensions: a conflict between two ethical domains raised by a detection rule.
- Actions: remediation work; done and in-progress actions reduce the residual score.
- Journal: every run is recorded in .etica/etica.db; view it with 'etica log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(viper.GetString("log-level"))
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ETICA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func setupLogging(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid --log-level %q", level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}

func registerCommands() {
	rootCmd.AddCommand(detectCmd())
	rootCmd.AddCommand(scoreCmd())
	rootCmd.AddCommand(assessCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(domainsCmd())
	rootCmd.AddCommand(schemaCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

type docFlags struct {
	file     string
	systemID string
}

func (f *docFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "assessment document (YAML or JSON)")
	cmd.Flags().StringVar(&f.systemID, "system-id", "", "override the document system id")
	_ = cmd.MarkFlagRequired("file")
}

func (f *docFlags) load() (*assessment.Document, error) {
	doc, err := assessment.Load(f.file)
	if err != nil {
		return nil, err
	}
	if f.systemID != "" {
		doc.SystemID = f.systemID
	}
	return doc, nil
}

func detectCmd() *cobra.Command {
	var f docFlags
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Detect tensions in an assessment document",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := f.load()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				res, err := ws.Engine.Detect(ctx, engine.DetectRequest{
					SystemID: doc.SystemID,
					Profile:  doc.Profile,
					Nodes:    doc.Nodes,
					Edges:    doc.Edges,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printDetected(res.Tensions)
				printSkipped(res.SkippedRules)
				return nil
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func scoreCmd() *cobra.Command {
	var f docFlags
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score the tensions and actions recorded in a document",
		Long:  "Scores the document as written. Use 'etica assess' to detect and reconcile tensions first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := f.load()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				res, err := ws.Engine.Score(ctx, engine.ScoreRequest{
					SystemID: doc.SystemID,
					Profile:  doc.Profile,
					Edges:    doc.Edges,
					Tensions: doc.Tensions,
					Actions:  doc.Actions,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printScores(res.Scores)
				return nil
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func assessCmd() *cobra.Command {
	var f docFlags
	var out string
	var watch bool
	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Detect, reconcile and score an assessment document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				run := func() error {
					doc, err := f.load()
					if err != nil {
						return err
					}
					res, err := ws.Engine.Assess(ctx, *doc)
					if err != nil {
						return err
					}
					if out != "" {
						if err := writeDocument(out, *doc, res.Result.Tensions); err != nil {
							return err
						}
					}
					if viper.GetBool("json") {
						return printJSON(res)
					}
					printReconciliation(res.Result)
					printSkipped(res.SkippedRules)
					printScores(res.Scores)
					return nil
				}
				if watch {
					if out != "" && sameFile(out, f.file) {
						return fmt.Errorf("--out cannot overwrite the watched document")
					}
					return watchFile(ctx, f.file, run)
				}
				return run()
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the document with reconciled tensions to this path")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-run whenever the document changes")
	return cmd
}

func reconcileCmd() *cobra.Command {
	var f docFlags
	var out string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Merge a fresh detection into the tensions of a document",
		Long:  "Existing tensions keep their id and status. New findings become DETECTED tensions; tensions whose rule no longer fires are reported as stale and kept.",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := f.load()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				res, err := ws.Engine.Reconcile(ctx, *doc)
				if err != nil {
					return err
				}
				if out != "" {
					if err := writeDocument(out, *doc, res.Result.Tensions); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printReconciliation(res.Result)
				printSkipped(res.SkippedRules)
				return nil
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the document with reconciled tensions to this path")
	return cmd
}

func rulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List active detection rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			opts, err := cfg.DetectorOptions()
			if err != nil {
				return err
			}
			rules := detect.New(opts...).Rules()
			if viper.GetBool("json") {
				type ruleOut struct {
					ID         string                  `json:"id"`
					Name       string                  `json:"name"`
					PatternID  string                  `json:"pattern_id"`
					Domains    [2]domain.EthicalDomain `json:"domains"`
					Severity   int                     `json:"base_severity"`
					Confidence domain.Confidence       `json:"confidence"`
					Custom     bool                    `json:"custom"`
				}
				items := make([]ruleOut, 0, len(rules))
				for _, r := range rules {
					items = append(items, ruleOut{r.ID, r.Name, r.PatternID, r.Domains, r.BaseSeverity, r.Confidence, r.Custom})
				}
				return printJSON(items)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"Rule", "Pattern", "Domains", "Severity", "Confidence", "Custom"})
			for _, r := range rules {
				pattern := r.PatternID
				if p, ok := detect.PatternByID(r.PatternID); ok {
					pattern = p.Title
				}
				custom := ""
				if r.Custom {
					custom = "yes"
				}
				tw.AppendRow(table.Row{r.ID, pattern, domainPair(r.Domains), r.BaseSeverity, r.Confidence, custom})
			}
			tw.Render()
			return nil
		},
	}
}

func domainsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "domains",
		Short: "List ethical domains",
		RunE: func(cmd *cobra.Command, args []string) error {
			items := domain.DomainCatalog()
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"Domain", "Label", "Circle"})
			for _, d := range items {
				tw.AppendRow(table.Row{d.ID, d.Label, d.Circle})
			}
			tw.Render()
			return nil
		},
	}
}

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of assessment documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := os.Stdout.Write(assessment.SchemaJSON())
			return err
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "etica.yml holds the server settings, the journal switch and the detection settings: disabled rules, keyword lists and custom CEL rules.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate etica.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default etica.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Evaluation journal",
		Long:  "Every detect, score, assess and reconcile run with its counts and the rules that fired.",
	}
	log.AddCommand(logTailCmd())
	log.AddCommand(logRulesCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var filter repo.EventFilter
	var follow bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if follow && interval <= 0 {
				return fmt.Errorf("--interval must be positive, got %s", interval)
			}
			return withJournal(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				evs, err := r.LatestEvents(ctx, n, filter)
				if err != nil {
					return err
				}
				// Oldest first, like tail.
				for i, j := 0, len(evs)-1; i < j; i, j = i+1, j-1 {
					evs[i], evs[j] = evs[j], evs[i]
				}
				printEvents(evs)
				if !follow {
					return nil
				}
				var cursor int64
				if len(evs) > 0 {
					cursor = evs[len(evs)-1].ID
				} else if cursor, err = r.LatestEventID(ctx, filter); err != nil {
					return err
				}
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
					next, err := r.EventsAfter(ctx, 100, cursor, filter)
					if err != nil {
						return err
					}
					if len(next) == 0 {
						continue
					}
					cursor = next[len(next)-1].ID
					printEvents(next)
				}
			})
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "number of runs")
	cmd.Flags().StringVar(&filter.Type, "type", "", "run type (detect.run, score.run, assess.run, reconcile.run)")
	cmd.Flags().StringVar(&filter.SystemID, "system-id", "", "system id")
	cmd.Flags().StringVar(&filter.RunID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&follow, "follow", false, "keep polling for new runs")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval with --follow")
	return cmd
}

func logRulesCmd() *cobra.Command {
	var systemID string
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "How often each rule fired",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.RuleFrequencies(ctx, systemID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Rule", "Runs", "Max severity", "Last run"})
				for _, f := range items {
					tw.AppendRow(table.Row{f.RuleID, f.Runs, f.MaxSeverity, f.LastRunID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&systemID, "system-id", "", "system id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if addr == "" {
					addr = ws.Config.Server.Addr
				}
				if basePath == "" {
					basePath = ws.Config.Server.BasePath
				}
				limit := ws.Config.Server.RateLimit
				handler, err := server.New(server.Config{
					Engine:    ws.Engine,
					BasePath:  basePath,
					RateLimit: server.RateLimit{RPS: limit.RPS, Burst: limit.Burst},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving ETICA API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from etica.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from etica.yml)")
	return cmd
}

// --- helpers ---

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	ws, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

func withJournal(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := app.OpenJournal(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, repo.Repo{DB: conn})
}

func writeDocument(path string, doc assessment.Document, tensions []domain.Tension) error {
	doc.Tensions = tensions
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printDetected(items []domain.DetectedTension) {
	if len(items) == 0 {
		fmt.Println("No tensions detected.")
		return
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Rule", "Domains", "Severity", "Confidence", "Edges", "Nodes"})
	for _, t := range items {
		tw.AppendRow(table.Row{t.RuleID, domainPair(t.ImpactedDomains), t.Severity, t.Confidence,
			strings.Join(t.RelatedEdgeIDs, ","), strings.Join(t.RelatedNodeIDs, ",")})
	}
	tw.Render()
}

func printReconciliation(rec assessment.Reconciliation) {
	tw := newTable()
	tw.AppendHeader(table.Row{"Tension", "Rule", "Domains", "Severity", "Status", "Change"})
	change := map[string]string{}
	for _, id := range rec.Created {
		change[id] = "created"
	}
	for _, id := range rec.Updated {
		change[id] = "updated"
	}
	for _, id := range rec.Stale {
		change[id] = "stale"
	}
	for _, t := range rec.Tensions {
		tw.AppendRow(table.Row{t.ID, t.RuleID, domainPair([2]domain.EthicalDomain{t.DomainA, t.DomainB}), t.Severity, t.Status, change[t.ID]})
	}
	tw.Render()
}

func printScores(s scoring.VigilanceScores) {
	tw := newTable()
	tw.AppendHeader(table.Row{"Domain", "Exposure", "Coverage", "Residual", "Level", "Tensions"})
	for _, d := range domain.EthicalDomains() {
		ds := s.ByDomain[d]
		tw.AppendRow(table.Row{d, fmt.Sprintf("%.1f", ds.Exposure), fmt.Sprintf("%.0f%%", ds.Coverage*100),
			fmt.Sprintf("%.1f", ds.Score), ds.Level, ds.TensionCount})
	}
	tw.AppendFooter(table.Row{"GLOBAL", "", fmt.Sprintf("%.0f%%", s.Coverage*100), fmt.Sprintf("%.1f", s.Global), s.GlobalLevel, s.TensionCount})
	tw.Render()
	fmt.Printf("Active actions: %d\n", s.ActiveActionCount)
}

func printSkipped(ids []string) {
	if len(ids) > 0 {
		fmt.Fprintf(os.Stderr, "skipped rules: %s\n", strings.Join(ids, ", "))
	}
}

func printEvents(evs []domain.Event) {
	if viper.GetBool("json") {
		enc := json.NewEncoder(os.Stdout)
		for _, e := range evs {
			enc.Encode(e)
		}
		return
	}
	for _, e := range evs {
		system := e.SystemID
		if system == "" {
			system = "-"
		}
		fmt.Printf("%s  %-14s %s  %s  %s\n", e.TS, e.Type, e.RunID, system, e.Payload)
	}
}

func domainPair(p [2]domain.EthicalDomain) string {
	return string(p[0]) + " / " + string(p[1])
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
