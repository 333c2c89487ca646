package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"evo2048/internal/config"
	"evo2048/internal/ctxlog"
	"evo2048/internal/render"
	"evo2048/internal/storage"
	api "evo2048/pkg/evo2048"
)

const defaultDBPath = "evo2048.db"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "play":
		return runPlay(ctx, args[1:])
	case "evolve":
		return runEvolve(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "top":
		return runTop(ctx, args[1:])
	case "fitness":
		return runFitness(ctx, args[1:])
	case "diagnostics":
		return runDiagnostics(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

type commonFlags struct {
	storeKind *string
	dbPath    *string
	logLevel  *string
	logFormat *string
}

func registerCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		storeKind: fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite"),
		dbPath:    fs.String("db-path", defaultDBPath, "sqlite database path"),
		logLevel:  fs.String("log-level", "info", "log level: debug|info|warn|error"),
		logFormat: fs.String("log-format", "text", "log format: text|json"),
	}
}

// open attaches the configured logger to ctx and builds the client.
func (c commonFlags) open(ctx context.Context, opts api.Options) (context.Context, *api.Client, error) {
	ctx = c.withLogger(ctx)
	opts.StoreKind = *c.storeKind
	opts.DBPath = *c.dbPath
	client, err := api.New(opts)
	if err != nil {
		return ctx, nil, err
	}
	return ctx, client, nil
}

func (c commonFlags) withLogger(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, newLogger(*c.logLevel, *c.logFormat, os.Stderr))
}

// useConfigStore takes the store settings of a config file unless they were
// given as flags.
func (c commonFlags) useConfigStore(fs *flag.FlagSet, configPath string, cfg config.Run) {
	if configPath == "" {
		return
	}
	set := setFlags(fs)
	if !set["store"] && cfg.Store != "" {
		*c.storeKind = cfg.Store
	}
	if !set["db-path"] && cfg.DBPath != "" {
		*c.dbPath = cfg.DBPath
	}
}

func newLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if formatStr == "json" {
		handler = slog.NewJSONHandler(outW, handlerOpts)
	} else {
		handler = slog.NewTextHandler(outW, handlerOpts)
	}
	return slog.New(handler)
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, client, err := common.open(ctx, api.Options{})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *common.storeKind)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, client, err := common.open(ctx, api.Options{})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Reset(ctx); err != nil {
		return err
	}

	fmt.Printf("reset store=%s\n", *common.storeKind)
	return nil
}

func runPlay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("play", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	configPath := fs.String("config", "", "optional run config path (.hcl or .json)")
	watch := fs.String("watch", "", "draw the board of this entry id, or every entry with \"all\"")
	serve := fs.String("serve", "", "serve frames over websocket at this address, path /frames")
	jsonOut := fs.Bool("json", false, "emit the report as JSON")
	flagValue := registerRunFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadRunConfig(*configPath, fs, flagValue)
	if err != nil {
		return err
	}
	common.useConfigStore(fs, *configPath, cfg)

	ctx, client, err := common.open(ctx, api.Options{})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	sink, closeSink, err := buildSink(ctx, *watch, *serve)
	if err != nil {
		return err
	}
	out, err := client.Play(ctx, api.PlayRequest{Config: cfg, Sink: sink})
	closeSink()
	if err != nil {
		return err
	}

	if *jsonOut {
		return writeJSON(os.Stdout, out)
	}
	for _, res := range out.Report.Results {
		line := fmt.Sprintf("entry=%s fitness=%s moves=%s points=%s max_tile=%d board_score=%s reason=%s",
			res.EntryID,
			humanize.CommafWithDigits(res.Fitness, 1),
			humanize.Comma(int64(res.Moves)),
			humanize.Comma(int64(res.Points)),
			res.MaxTile,
			humanize.CommafWithDigits(res.Board.Score, 1),
			res.Reason,
		)
		if res.Error != "" {
			line += " error=" + res.Error
		}
		fmt.Println(line)
	}
	s := out.Summary
	fmt.Printf("ticks=%s max_tile=%d mean=%s std=%s\n",
		humanize.Comma(int64(s.Ticks)),
		s.MaxTile,
		humanize.CommafWithDigits(s.MeanFitness, 1),
		humanize.CommafWithDigits(s.StdFitness, 1),
	)
	return nil
}

func runEvolve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evolve", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	configPath := fs.String("config", "", "optional run config path (.hcl or .json)")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	outDir := fs.String("out-dir", "", "artifacts directory (defaults to the config out_dir)")
	noArtifacts := fs.Bool("no-artifacts", false, "skip writing run artifacts")
	watch := fs.String("watch", "", "draw the board of this entry id, or every entry with \"all\"")
	serve := fs.String("serve", "", "serve frames over websocket at this address, path /frames")
	flagValue := registerRunFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadRunConfig(*configPath, fs, flagValue)
	if err != nil {
		return err
	}
	common.useConfigStore(fs, *configPath, cfg)
	ctx = common.withLogger(ctx)

	artifacts := cfg.OutDir
	if *outDir != "" {
		artifacts = *outDir
	}
	if *noArtifacts {
		artifacts = ""
	}
	sink, closeSink, err := buildSink(ctx, *watch, *serve)
	if err != nil {
		return err
	}
	defer closeSink()

	ctx, client, err := common.open(ctx, api.Options{ArtifactsDir: artifacts, Sink: sink})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Evolve(ctx, api.EvolveRequest{RunID: *runID, Config: cfg})
	if err != nil && summary.RunID == "" {
		return err
	}
	fmt.Printf("run_id=%s generations=%d best=%s max_tile=%d\n",
		summary.RunID,
		summary.Generations,
		humanize.CommafWithDigits(summary.FinalBestFitness, 1),
		summary.MaxTile,
	)
	if summary.ArtifactsDir != "" {
		fmt.Printf("artifacts=%s\n", summary.ArtifactsDir)
	}
	if errors.Is(err, context.Canceled) {
		fmt.Println("stopped early; finished generations were saved")
		return nil
	}
	return err
}

// buildSink wires the terminal and websocket renderers. The returned func
// stops them.
func buildSink(ctx context.Context, watch, serve string) (render.Sink, func(), error) {
	var sinks render.Multi
	closers := []func(){}
	if watch != "" {
		entryID := watch
		if entryID == "all" {
			entryID = ""
		}
		async := render.NewAsync(render.NewTextSink(os.Stdout, entryID), 64)
		sinks = append(sinks, async)
		closers = append(closers, async.Close)
	}
	if serve != "" {
		hubCtx, cancel := context.WithCancel(ctx)
		hub := render.NewHub(ctxlog.FromContext(ctx))
		go hub.Run(hubCtx)
		mux := http.NewServeMux()
		mux.Handle("/frames", hub)
		srv := &http.Server{Addr: serve, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				ctxlog.FromContext(ctx).Error("frame server stopped", "error", err)
			}
		}()
		sinks = append(sinks, hub)
		closers = append(closers, func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
			cancel()
		})
	}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	if len(sinks) == 0 {
		return nil, closeAll, nil
	}
	return sinks, closeAll, nil
}

type runQueryFlags struct {
	runID   *string
	latest  *bool
	limit   *int
	jsonOut *bool
}

func registerRunQueryFlags(fs *flag.FlagSet, what string, limit int) runQueryFlags {
	return runQueryFlags{
		runID:   fs.String("run-id", "", "run id"),
		latest:  fs.Bool("latest", false, "use the most recent run"),
		limit:   fs.Int("limit", limit, fmt.Sprintf("max %s to print (<=0 for all)", what)),
		jsonOut: fs.Bool("json", false, "emit JSON"),
	}
}

func (q runQueryFlags) ref(command string) (api.RunRef, error) {
	if *q.runID != "" && *q.latest {
		return api.RunRef{}, errors.New("use either --run-id or --latest, not both")
	}
	if *q.runID == "" && !*q.latest {
		return api.RunRef{}, fmt.Errorf("%s requires --run-id or --latest", command)
	}
	return api.RunRef{RunID: *q.runID, Latest: *q.latest, Limit: max(*q.limit, 0)}, nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	ctx, client, err := common.open(ctx, api.Options{})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	runs, err := client.Runs(ctx, *limit)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(os.Stdout, runs)
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("run_id=%s started=%s pop=%d generations=%d seed=%d best=%s max_tile=%d\n",
			r.RunID,
			humanize.Time(r.StartedAt),
			r.PopulationSize,
			r.Generations,
			r.Seed,
			humanize.CommafWithDigits(r.BestFitness, 1),
			r.MaxTile,
		)
	}
	return nil
}

func runTop(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("top", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	query := registerRunQueryFlags(fs, "top genomes", 5)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ref, err := query.ref("top")
	if err != nil {
		return err
	}

	ctx, client, err := common.open(ctx, api.Options{})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	top, err := client.TopGenomes(ctx, ref)
	if err != nil {
		return err
	}
	if *query.jsonOut {
		return writeJSON(os.Stdout, top)
	}
	if len(top) == 0 {
		fmt.Println("no top genomes")
		return nil
	}
	for _, item := range top {
		fmt.Printf("rank=%d fitness=%s max_tile=%d genome_id=%s neurons=%d synapses=%d\n",
			item.Rank,
			humanize.CommafWithDigits(item.Fitness, 1),
			item.MaxTile,
			item.Genome.ID,
			len(item.Genome.Neurons),
			len(item.Genome.Synapses),
		)
	}
	return nil
}

func runFitness(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fitness", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	query := registerRunQueryFlags(fs, "generations", 50)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ref, err := query.ref("fitness")
	if err != nil {
		return err
	}

	ctx, client, err := common.open(ctx, api.Options{})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	history, err := client.FitnessHistory(ctx, ref)
	if err != nil {
		return err
	}
	if *query.jsonOut {
		return writeJSON(os.Stdout, history)
	}
	for i, best := range history {
		fmt.Printf("generation=%d best_fitness=%s\n", i+1, humanize.CommafWithDigits(best, 1))
	}
	return nil
}

func runDiagnostics(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("diagnostics", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	query := registerRunQueryFlags(fs, "generations", 50)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ref, err := query.ref("diagnostics")
	if err != nil {
		return err
	}

	ctx, client, err := common.open(ctx, api.Options{})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	diagnostics, err := client.Diagnostics(ctx, ref)
	if err != nil {
		return err
	}
	if *query.jsonOut {
		return writeJSON(os.Stdout, diagnostics)
	}
	for _, d := range diagnostics {
		fmt.Printf("generation=%d best=%.1f mean=%.1f min=%.1f max_tile=%d mean_moves=%.1f mean_points=%.1f ticks=%d\n",
			d.Generation,
			d.BestFitness,
			d.MeanFitness,
			d.MinFitness,
			d.MaxTile,
			d.MeanMoves,
			d.MeanPoints,
			d.Ticks,
		)
	}
	return nil
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: evo2048ctl <%s> [flags]", msg, strings.Join(commands, "|"))
}

var commands = []string{"init", "reset", "play", "evolve", "runs", "top", "fitness", "diagnostics"}
