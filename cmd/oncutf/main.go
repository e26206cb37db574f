package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/oncutf/oncutf/internal/config"
	"github.com/oncutf/oncutf/internal/exiftool"
	"github.com/oncutf/oncutf/internal/history"
	"github.com/oncutf/oncutf/internal/metadata"
	"github.com/oncutf/oncutf/internal/persistence"
	"github.com/oncutf/oncutf/internal/rename"
	"github.com/oncutf/oncutf/internal/scan"
	"github.com/oncutf/oncutf/pkg/file"
	"github.com/oncutf/oncutf/pkg/icron"
	"github.com/oncutf/oncutf/pkg/log"
)

func main() {
	_ = godotenv.Load()

	opts := make([]config.Option, 0)
	if settings, err := config.LoadRuntimeSettingsFile(config.RuntimeSettingsFilePath()); err == nil {
		opts = append(opts, config.WithRuntimeSettings(settings))
	}
	cfg, err := config.NewFromEnv(opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}
	log.InitLogger(log.ParseLevel(cfg.System.LogLevel))

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	// Safety net: exiftool processes must never outlive the tool.
	defer exiftool.ForceCleanupAll()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sigCh
		cancel()
		exiftool.ForceCleanupAll()
	}()

	var exitCode int
	switch os.Args[1] {
	case "preview":
		exitCode = runPreview(ctx, cfg, os.Args[2:])
	case "execute":
		exitCode = runExecute(ctx, cfg, os.Args[2:])
	case "undo":
		exitCode = runUndo(ctx, cfg, os.Args[2:])
	case "watch":
		exitCode = runWatch(ctx, cfg)
	default:
		usage()
		exitCode = 2
	}
	os.Exit(exitCode)
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: oncutf <command> [flags]

Commands:
  preview <dir>   show the rename preview for a directory
  execute <dir>   execute the renames for a directory
  undo [batch]    undo a rename batch (lists recent batches when omitted)
  watch           run periodic cache maintenance

Run "oncutf <command> -h" for command flags.`)
}

type batchFlags struct {
	counterStart   int
	counterStep    int
	counterPadding int
	text           string
	field          string
	keepName       bool
	remove         string
	caseMode       string
	separator      string
	greeklish      bool
	extended       bool
	recursive      bool
	extensions     string
	abortOnInvalid bool
}

func registerBatchFlags(fs *flag.FlagSet) *batchFlags {
	ret := &batchFlags{}
	fs.IntVar(&ret.counterStart, "counter-start", 0, "counter module start value (enables the counter)")
	fs.IntVar(&ret.counterStep, "counter-step", 1, "counter module step")
	fs.IntVar(&ret.counterPadding, "counter-padding", 1, "counter module zero padding width")
	fs.StringVar(&ret.text, "text", "", "specified text fragment")
	fs.StringVar(&ret.field, "field", "", "metadata field fragment (e.g. Model, DateTimeOriginal)")
	fs.BoolVar(&ret.keepName, "keep-name", false, "keep the original stem as a fragment")
	fs.StringVar(&ret.remove, "remove", "", "remove this text from the original stem")
	fs.StringVar(&ret.caseMode, "case", "", "final case transform: lower, upper, capitalize, camel")
	fs.StringVar(&ret.separator, "separator", "", "final separator transform: snake, kebab, space")
	fs.BoolVar(&ret.greeklish, "greeklish", false, "transliterate Greek stems to Latin")
	fs.BoolVar(&ret.extended, "extended", false, "use extended metadata extraction")
	fs.BoolVar(&ret.recursive, "recursive", false, "scan the directory recursively")
	fs.StringVar(&ret.extensions, "ext", "", "comma-separated extension filter (e.g. jpg,png)")
	fs.BoolVar(&ret.abortOnInvalid, "abort-on-error", false, "abort the batch on the first per-file error")
	return ret
}

func (f *batchFlags) modules(counterEnabled bool) []rename.Module {
	ret := make([]rename.Module, 0, 4)
	if f.keepName {
		ret = append(ret, rename.OriginalNameModule{Greeklish: f.greeklish})
	}
	if f.remove != "" {
		ret = append(ret, rename.TextRemovalModule{Pattern: f.remove, All: true})
	}
	if f.text != "" {
		ret = append(ret, rename.SpecifiedTextModule{Text: f.text})
	}
	if f.field != "" {
		ret = append(ret, rename.MetadataFieldModule{Field: f.field})
	}
	if counterEnabled {
		ret = append(ret, rename.CounterModule{
			Start:   f.counterStart,
			Step:    f.counterStep,
			Padding: f.counterPadding,
		})
	}
	return ret
}

func (f *batchFlags) transform() rename.NameTransform {
	return rename.NameTransform{
		Case:      rename.CaseMode(f.caseMode),
		Separator: rename.SeparatorMode(f.separator),
		Greeklish: f.greeklish,
	}
}

func (f *batchFlags) scanOptions() []scan.Option {
	ret := []scan.Option{scan.WithRecursive(f.recursive)}
	if f.extensions != "" {
		ret = append(ret, scan.WithExtensions(strings.Split(f.extensions, ",")...))
	}
	return ret
}

func flagPassed(fs *flag.FlagSet, name string) bool {
	passed := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}

// buildEngine wires the store, cache, adapter, loader and history together.
// The returned cleanup must run before exit.
func buildEngine(cfg *config.Config) (*rename.Engine, *history.Service, func(), error) {
	store, err := persistence.NewSQLiteStore(cfg.Cache.DBPath)
	if err != nil {
		return nil, nil, nil, err
	}

	cache, err := metadata.NewCache(cfg.Cache.MemoryEntries, store)
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, err
	}

	adapter := exiftool.NewAdapter(
		exiftool.WithBinaryPath(cfg.Extractor.BinaryPath),
		exiftool.WithTimeout(time.Duration(cfg.Extractor.TimeoutSeconds)*time.Second),
		exiftool.WithRestartRetries(cfg.Extractor.RestartRetries),
	)
	loader := metadata.NewLoader(cache, adapter, cfg.Engine.ExtractWorkers)
	histService := history.NewService(store)

	engine := rename.NewEngine(
		loader,
		rename.WithHistory(histService),
		rename.WithPreviewTTL(time.Duration(cfg.Engine.PreviewTTLMilli)*time.Millisecond),
		rename.WithFragmentTTL(time.Duration(cfg.Engine.FragmentTTLMilli)*time.Millisecond),
	)

	cleanup := func() {
		_ = adapter.Close()
		_ = store.Close()
	}
	return engine, histService, cleanup, nil
}

func buildRequest(ctx context.Context, fs *flag.FlagSet, flags *batchFlags) (rename.Request, error) {
	if fs.NArg() < 1 {
		return rename.Request{}, fmt.Errorf("directory argument is required")
	}
	scanner := scan.NewScanner(fs.Arg(0), flags.scanOptions()...)
	entries, err := scanner.Scan(ctx)
	if err != nil {
		return rename.Request{}, err
	}
	if len(entries) == 0 {
		return rename.Request{}, fmt.Errorf("no files found in %s", fs.Arg(0))
	}

	counterEnabled := flagPassed(fs, "counter-start") || flagPassed(fs, "counter-step") || flagPassed(fs, "counter-padding")
	modules := flags.modules(counterEnabled)
	if len(modules) == 0 {
		return rename.Request{}, fmt.Errorf("no rename modules configured")
	}

	return rename.Request{
		Entries:        entries,
		Modules:        modules,
		Transform:      flags.transform(),
		Extended:       flags.extended,
		AbortOnInvalid: flags.abortOnInvalid,
	}, nil
}

func runPreview(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("preview", flag.ExitOnError)
	flags := registerBatchFlags(fs)
	_ = fs.Parse(args)

	engine, _, cleanup, err := buildEngine(cfg)
	if err != nil {
		log.Error("Failed to initialize: %v", err)
		return 1
	}
	defer cleanup()

	req, err := buildRequest(ctx, fs, flags)
	if err != nil {
		log.Error("%v", err)
		return 1
	}

	results, err := engine.Preview(ctx, req)
	if err != nil {
		log.Error("Preview failed: %v", err)
		return 1
	}

	for _, result := range results {
		marker := "ok"
		switch {
		case result.Conflict:
			marker = "CONFLICT"
		case !result.Valid:
			marker = "INVALID"
		}
		fmt.Printf("%-40s -> %-40s [%s]\n", result.OldName, result.NewName, marker)
		if result.Err != nil {
			fmt.Printf("    %v\n", result.Err)
		}
	}
	return 0
}

func runExecute(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("execute", flag.ExitOnError)
	flags := registerBatchFlags(fs)
	_ = fs.Parse(args)

	engine, _, cleanup, err := buildEngine(cfg)
	if err != nil {
		log.Error("Failed to initialize: %v", err)
		return 1
	}
	defer cleanup()

	req, err := buildRequest(ctx, fs, flags)
	if err != nil {
		log.Error("%v", err)
		return 1
	}

	result, err := engine.Execute(ctx, req, promptResolver{reader: bufio.NewReader(os.Stdin)})
	if err != nil {
		log.Error("Execution refused: %v", err)
		return 1
	}

	fmt.Printf("Batch %s: %d renamed, %d skipped, %d failed\n",
		result.BatchID, len(result.Renamed), len(result.Skipped), len(result.Failed))
	for _, skipped := range result.Skipped {
		fmt.Printf("  skipped %s: %s\n", skipped.Entry.Name, skipped.Reason)
	}
	for _, failed := range result.Failed {
		fmt.Printf("  failed %s: %v\n", failed.Entry.Name, failed.Err)
	}
	if result.Aborted {
		fmt.Println("Batch aborted.")
	}
	if result.Cancelled {
		fmt.Println("Batch cancelled.")
	}
	if len(result.Failed) > 0 || result.Aborted {
		return 1
	}
	return 0
}

// promptResolver asks the user on stdin how to handle an execution-time
// conflict.
type promptResolver struct {
	reader *bufio.Reader
}

func (r promptResolver) Resolve(_ context.Context, conflict rename.Conflict) rename.Decision {
	fmt.Printf("Target already exists: %s\n", conflict.NewPath)
	for {
		fmt.Print("[s]kip / skip [a]ll / [o]verwrite / a[b]ort? ")
		line, err := r.reader.ReadString('\n')
		if err != nil {
			return rename.DecisionAbort
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "s", "skip":
			return rename.DecisionSkip
		case "a", "all":
			return rename.DecisionSkipAll
		case "o", "overwrite":
			return rename.DecisionOverwrite
		case "b", "abort":
			return rename.DecisionAbort
		}
	}
}

func runUndo(ctx context.Context, cfg *config.Config, args []string) int {
	_, histService, cleanup, err := buildEngine(cfg)
	if err != nil {
		log.Error("Failed to initialize: %v", err)
		return 1
	}
	defer cleanup()

	if len(args) == 0 {
		batches, err := histService.ListRecent(ctx, 20)
		if err != nil {
			log.Error("Failed to list rename history: %v", err)
			return 1
		}
		if len(batches) == 0 {
			fmt.Println("No rename history.")
			return 0
		}
		for _, batch := range batches {
			status := ""
			if batch.Undone {
				status = " (undone)"
			}
			fmt.Printf("%s  %3d files  %s%s\n",
				batch.BatchID, batch.FileCount, batch.RenamedAt.Local().Format(time.DateTime), status)
		}
		return 0
	}

	result, err := histService.Undo(ctx, args[0])
	if err != nil {
		log.Error("Undo failed: %v", err)
		return 1
	}
	fmt.Printf("Batch %s: %d restored, %d failed\n", result.BatchID, len(result.Restored), len(result.Failed))
	for _, failure := range result.Failed {
		fmt.Printf("  failed %s: %v\n", failure.Entry.NewPath, failure.Err)
	}
	if len(result.Failed) > 0 {
		return 1
	}
	return 0
}

var maintenanceGroup singleflight.Group

// runWatch keeps the process alive and prunes cache rows for files that no
// longer exist, on the configured schedule.
func runWatch(ctx context.Context, cfg *config.Config) int {
	store, err := persistence.NewSQLiteStore(cfg.Cache.DBPath)
	if err != nil {
		log.Error("Failed to open cache store: %v", err)
		return 1
	}
	defer store.Close()

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Maintenance.CronExpr, func() {
		_, _, _ = maintenanceGroup.Do("prune", func() (any, error) {
			pruned, err := store.PruneMissing(ctx, file.Exists)
			if err != nil {
				log.Error("Cache prune failed: %v", err)
				return nil, err
			}
			log.Info("Cache prune removed %d stale entries", pruned)
			return nil, nil
		})
	})
	if err != nil {
		log.Error("Invalid maintenance schedule: %v", err)
		return 1
	}

	if info, infoErr := icron.GetTriggerInfo(cfg.Maintenance.CronExpr, time.Now()); infoErr == nil {
		log.Info("Watching: cache maintenance scheduled at %q, next run in %s",
			cfg.Maintenance.CronExpr, info.TimeUntilNext.Round(time.Second))
	} else {
		log.Info("Watching: cache maintenance scheduled at %q", cfg.Maintenance.CronExpr)
	}
	scheduler.Start()
	<-ctx.Done()
	<-scheduler.Stop().Done()
	return 0
}
