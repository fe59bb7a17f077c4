package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"bulwark/internal/stacktrace"
	"bulwark/pkg/bulwark"
	"bulwark/pkg/journal"
)

const (
	envConfigFile           = "CRASHCTL_CONFIG"
	defaultConfigFilePath   = "crashctl.yaml"
	alternateConfigFilePath = "config/crashctl.yaml"
	defaultListLimit        = 20
	defaultPruneKeep        = 100
)

type appConfig struct {
	logLevel  slog.Level
	listLimit int
	journals  []journal.Definition
}

type fileConfig struct {
	LogLevel  string             `yaml:"log_level"`
	ListLimit *int               `yaml:"list_limit"`
	Journals  []fileJournalEntry `yaml:"journals"`
}

type fileJournalEntry struct {
	Name    string            `yaml:"name"`
	Kind    string            `yaml:"kind"`
	Enabled *bool             `yaml:"enabled"`
	Options map[string]string `yaml:"options"`
}

func run(args []string) error {
	if len(args) == 0 {
		usage()
		return fmt.Errorf("missing command")
	}

	command, commandArgs := args[0], args[1:]
	switch command {
	case "help", "-h", "--help":
		usage()
		return nil
	case "list", "show", "prune", "record":
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.logLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "list":
		return runList(ctx, cfg, logger, os.Stdout, commandArgs)
	case "show":
		return runShow(ctx, cfg, logger, os.Stdout, commandArgs)
	case "prune":
		return runPrune(ctx, cfg, logger, os.Stdout, commandArgs)
	case "record":
		return runRecord(ctx, cfg, logger, os.Stdout, commandArgs)
	}

	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: crashctl <command> [flags]

Commands:
  list        List journaled crash reports, newest first
  show        Print one crash report in full
  prune       Keep only the most recent reports
  record      Append a synthetic crash report
  help        Show this help

Use "crashctl <command> -h" for command-specific flags.`)
}

func runList(ctx context.Context, cfg appConfig, logger *slog.Logger, out io.Writer, args []string) error {
	flags := flag.NewFlagSet("list", flag.ContinueOnError)
	maxReports := flags.Int("n", cfg.listLimit, "maximum reports to print, 0 for all")
	rawCategory := flags.String("category", "", "only print reports with this category")
	noColor := flags.Bool("no-color", false, "disable colorized output")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("parse list flags: %w", err)
	}
	if *noColor {
		color.NoColor = true
	}

	var filter bulwark.Category
	if raw := strings.TrimSpace(*rawCategory); raw != "" {
		parsed, err := parseCategory(raw)
		if err != nil {
			return fmt.Errorf("parse -category: %w", err)
		}
		filter = parsed
	}

	target, err := openJournal(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeJournal(logger, target)

	reports, err := target.List(ctx)
	if err != nil {
		return fmt.Errorf("list reports: %w", err)
	}

	printed := 0
	for _, report := range reports {
		if filter != "" && report.Category != filter {
			continue
		}
		if *maxReports > 0 && printed >= *maxReports {
			break
		}
		printListLine(out, report)
		printed++
	}
	if printed == 0 {
		fmt.Fprintln(out, "no reports")
	}

	return nil
}

func runShow(ctx context.Context, cfg appConfig, logger *slog.Logger, out io.Writer, args []string) error {
	flags := flag.NewFlagSet("show", flag.ContinueOnError)
	noColor := flags.Bool("no-color", false, "disable colorized output")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("parse show flags: %w", err)
	}
	if *noColor {
		color.NoColor = true
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("show: exactly one report id is required")
	}

	target, err := openJournal(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeJournal(logger, target)

	report, err := target.Load(ctx, flags.Arg(0))
	if err != nil {
		return fmt.Errorf("load report %s: %w", flags.Arg(0), err)
	}
	printReport(out, report)

	return nil
}

func runPrune(ctx context.Context, cfg appConfig, logger *slog.Logger, out io.Writer, args []string) error {
	flags := flag.NewFlagSet("prune", flag.ContinueOnError)
	keep := flags.Int("keep", defaultPruneKeep, "number of newest reports to keep")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("parse prune flags: %w", err)
	}
	if *keep < 0 {
		return fmt.Errorf("prune: -keep must be >= 0")
	}

	target, err := openJournal(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeJournal(logger, target)

	pruner, supported := target.(bulwark.Pruner)
	if !supported {
		return fmt.Errorf("prune: configured journal does not support pruning")
	}

	removed, err := pruner.Prune(ctx, *keep)
	if err != nil {
		return fmt.Errorf("prune reports: %w", err)
	}
	fmt.Fprintf(out, "removed %d reports, kept at most %d\n", removed, *keep)

	return nil
}

func runRecord(ctx context.Context, cfg appConfig, logger *slog.Logger, out io.Writer, args []string) error {
	flags := flag.NewFlagSet("record", flag.ContinueOnError)
	scope := flags.String("scope", "manual", "scope attached to the synthetic report")
	message := flags.String("message", "", "report message, required")
	rawCategory := flags.String("category", string(bulwark.CategoryString), "report category")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("parse record flags: %w", err)
	}
	if strings.TrimSpace(*message) == "" {
		return fmt.Errorf("record: -message is required")
	}
	category, err := parseCategory(*rawCategory)
	if err != nil {
		return fmt.Errorf("parse -category: %w", err)
	}

	target, err := openJournal(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeJournal(logger, target)

	report := &bulwark.CrashReport{
		ID:         uuid.New().String(),
		Scope:      strings.TrimSpace(*scope),
		Message:    strings.TrimSpace(*message),
		Category:   category,
		Code:       category.Code(),
		Labels:     map[string]string{"origin": "crashctl"},
		CapturedAt: time.Now().UTC(),
	}
	if err := target.Record(ctx, report); err != nil {
		return fmt.Errorf("record report: %w", err)
	}
	fmt.Fprintf(out, "recorded report %s\n", report.ID)

	return nil
}

func openJournal(ctx context.Context, cfg appConfig, logger *slog.Logger) (bulwark.Journal, error) {
	registry, err := journal.NewBuiltinRegistry()
	if err != nil {
		return nil, fmt.Errorf("new builtin journal registry: %w", err)
	}

	target, err := registry.BuildEnabled(ctx, cfg.journals, logger)
	if err != nil {
		return nil, fmt.Errorf("build journals: %w", err)
	}

	return target, nil
}

func closeJournal(logger *slog.Logger, target bulwark.Journal) {
	if err := target.Close(); err != nil {
		logger.Warn("close journal", "error", err)
	}
}

func printListLine(out io.Writer, report *bulwark.CrashReport) {
	fmt.Fprintf(out, "%s  %s  %s  %s",
		shortID(report.ID),
		report.CapturedAt.Format(time.RFC3339),
		categoryLabel(report.Category),
		report.Scope,
	)
	if frame := stacktrace.FirstFrame([]byte(report.Stack)); frame != "" {
		fmt.Fprintf(out, "  %s", frame)
	}
	fmt.Fprintf(out, "  %s\n", report.Message)
}

func printReport(out io.Writer, report *bulwark.CrashReport) {
	fmt.Fprintf(out, "ID:          %s\n", report.ID)
	fmt.Fprintf(out, "Captured at: %s\n", report.CapturedAt.Format(time.RFC3339Nano))
	fmt.Fprintf(out, "Category:    %s (code %d)\n", categoryLabel(report.Category), report.Code)
	fmt.Fprintf(out, "Scope:       %s\n", report.Scope)
	fmt.Fprintf(out, "Message:     %s\n", report.Message)
	if len(report.Labels) > 0 {
		keys := make([]string, 0, len(report.Labels))
		for key := range report.Labels {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		fmt.Fprintln(out, "Labels:")
		for _, key := range keys {
			fmt.Fprintf(out, "  %s: %s\n", key, report.Labels[key])
		}
	}
	if strings.TrimSpace(report.Stack) != "" {
		fmt.Fprintln(out, "Stack:")
		for _, line := range strings.Split(strings.TrimRight(report.Stack, "\n"), "\n") {
			fmt.Fprintf(out, "  %s\n", line)
		}
	}
}

var categoryPainters = map[bulwark.Category]*color.Color{
	bulwark.CategoryRuntime:  color.New(color.FgRed, color.Bold),
	bulwark.CategoryError:    color.New(color.FgRed),
	bulwark.CategoryString:   color.New(color.FgYellow),
	bulwark.CategoryNilPanic: color.New(color.FgMagenta),
	bulwark.CategoryValue:    color.New(color.FgCyan),
}

func categoryLabel(category bulwark.Category) string {
	painter, known := categoryPainters[category]
	if !known {
		return string(category)
	}

	return painter.Sprint(string(category))
}

func parseCategory(raw string) (bulwark.Category, error) {
	category := bulwark.Category(strings.ToLower(strings.TrimSpace(raw)))
	if !category.Valid() {
		return "", fmt.Errorf("unsupported category %q", raw)
	}

	return category, nil
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}

	return id[:8]
}

func loadConfig() (appConfig, error) {
	cfg := defaultAppConfig()
	configFile, err := resolveConfigFilePath()
	if err != nil {
		return appConfig{}, err
	}

	if err := applyConfigFile(&cfg, configFile); err != nil {
		return appConfig{}, err
	}
	if err := validateAppConfig(&cfg); err != nil {
		return appConfig{}, fmt.Errorf("validate config file %s: %w", configFile, err)
	}

	return cfg, nil
}

func resolveConfigFilePath() (string, error) {
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, or set %s",
		defaultConfigFilePath,
		alternateConfigFilePath,
		envConfigFile,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel:  slog.LevelInfo,
		listLimit: defaultListLimit,
		journals:  make([]journal.Definition, 0),
	}
}

func applyConfigFile(cfg *appConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}

	if parsed.ListLimit != nil {
		if *parsed.ListLimit <= 0 {
			return fmt.Errorf("parse list_limit: must be > 0")
		}
		cfg.listLimit = *parsed.ListLimit
	}

	cfg.journals = make([]journal.Definition, 0, len(parsed.Journals))
	for _, entry := range parsed.Journals {
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		options := make(map[string]string, len(entry.Options))
		for key, value := range entry.Options {
			options[key] = value
		}
		cfg.journals = append(cfg.journals, journal.Definition{
			Name:    strings.TrimSpace(entry.Name),
			Kind:    strings.TrimSpace(entry.Kind),
			Enabled: enabled,
			Options: options,
		})
	}

	return nil
}

func validateAppConfig(cfg *appConfig) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	enabledCount := 0
	seenNames := make(map[string]struct{}, len(cfg.journals))
	for _, definition := range cfg.journals {
		if definition.Name == "" {
			return fmt.Errorf("journals[].name is required")
		}
		if definition.Kind == "" {
			return fmt.Errorf("journals[%s].kind is required", definition.Name)
		}
		if _, exists := seenNames[definition.Name]; exists {
			return fmt.Errorf("journals[%s]: duplicate name", definition.Name)
		}
		seenNames[definition.Name] = struct{}{}
		if definition.Enabled {
			enabledCount++
		}
	}
	if enabledCount == 0 {
		return fmt.Errorf("at least one enabled journal is required")
	}

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}
