package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/contactsync/internal/app"
	"github.com/shpitdev/contactsync/internal/config"
	"github.com/shpitdev/contactsync/internal/logging"
	"github.com/shpitdev/contactsync/internal/version"
	"github.com/shpitdev/contactsync/pkg/apollo"
	"github.com/shpitdev/contactsync/pkg/pipeline/redact"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return 2
	}

	switch args[0] {
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	case "version":
		_, _ = fmt.Fprintf(stdout, "contactsync %s\n", version.Current)
		return 0
	case "upload":
		return runUpload(ctx, args[1:], stderr)
	case "cleanup":
		return runCleanup(ctx, args[1:], stderr)
	case "export":
		return runExport(ctx, args[1:], stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command: %s\n\n", args[0])
		usage(stderr)
		return 2
	}
}

// commonFlags are accepted by every run command. Values only override the config
// when the flag is given explicitly.
type commonFlags struct {
	apiKey         string
	configPath     string
	baseURL        string
	rateLimitRPS   float64
	requestTimeout time.Duration
	maxAttempts    int
	logEnv         string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.apiKey, "api-key", "", "Directory service API key (env: APOLLO_API_KEY, APOLLO_API_KEY_FILE)")
	fs.StringVar(&c.configPath, "config", "", "YAML config file (env: "+config.EnvConfigPath+")")
	fs.StringVar(&c.baseURL, "base-url", "", "API base URL override (env: APOLLO_BASE_URL)")
	fs.Float64Var(&c.rateLimitRPS, "rate-limit-rps", 0, "Global request rate limit (RPS), 0 disables (env: RATE_LIMIT_RPS)")
	fs.DurationVar(&c.requestTimeout, "request-timeout", 0, "Per-request timeout (env: REQUEST_TIMEOUT)")
	fs.IntVar(&c.maxAttempts, "max-attempts", 0, "Total submission attempts per contact (env: MAX_ATTEMPTS)")
	fs.StringVar(&c.logEnv, "log-env", "", "Logger preset: development, debug or production (env: LOG_ENV)")
}

// setup merges config layers and builds the runner. A non-zero code means the
// caller should exit with it.
func setup(fs *flag.FlagSet, cf *commonFlags, stderr io.Writer) (app.Runner, *zap.SugaredLogger, int) {
	cfg, err := config.Load(cf.configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return app.Runner{}, nil, 2
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "base-url":
			cfg.BaseURL = strings.TrimSpace(cf.baseURL)
		case "rate-limit-rps":
			cfg.RateLimitRPS = cf.rateLimitRPS
		case "request-timeout":
			cfg.RequestTimeout = cf.requestTimeout
		case "max-attempts":
			cfg.MaxAttempts = cf.maxAttempts
		case "log-env":
			cfg.LogEnv = cf.logEnv
		}
	})
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "config error: %s\n", err)
		return app.Runner{}, nil, 2
	}

	apiKey, err := resolveAPIKey(cf.apiKey)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return app.Runner{}, nil, 2
	}

	client, err := apollo.NewClient(apollo.Config{
		BaseURL:      cfg.BaseURL,
		APIKey:       apiKey,
		Timeout:      cfg.RequestTimeout,
		RateLimitRPS: cfg.RateLimitRPS,
		UserAgent:    version.UserAgent(),
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "apollo config error: %s\n", redact.Secrets(err.Error()))
		return app.Runner{}, nil, 2
	}

	logger, err := logging.New(cfg.LogEnv)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "logger error: %v\n", err)
		return app.Runner{}, nil, 2
	}

	return app.Runner{Client: client, Options: cfg.SyncOptions(), Logger: logger}, logger, 0
}

func runUpload(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var cf commonFlags
	cf.register(fs)
	cleanup := fs.Bool("cleanup", false, "Delete contacts left unenriched after --wait")
	wait := fs.Duration("wait", 5*time.Minute, "Delay before cleanup, giving the service time to enrich")
	exportPath := fs.String("export", "", "Export the list to this CSV path when done")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 2 {
		_, _ = fmt.Fprintln(stderr, "upload requires <list_name> <input.csv>")
		return 2
	}
	if *wait < 0 {
		_, _ = fmt.Fprintln(stderr, "--wait must not be negative")
		return 2
	}

	runner, logger, code := setup(fs, &cf, stderr)
	if code != 0 {
		return code
	}
	defer logging.Sync(logger)

	_, err := runner.RunUpload(ctx, app.UploadParams{
		ListName:   fs.Arg(0),
		InputPath:  fs.Arg(1),
		Cleanup:    *cleanup,
		Wait:       *wait,
		ExportPath: *exportPath,
	})
	return exitCode(stderr, "upload", err)
}

func runCleanup(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var cf commonFlags
	cf.register(fs)
	wait := fs.Duration("wait", 0, "Delay before reconciling")
	exportPath := fs.String("export", "", "Export the surviving contacts to this CSV path")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "cleanup requires <list_name>")
		return 2
	}
	if *wait < 0 {
		_, _ = fmt.Fprintln(stderr, "--wait must not be negative")
		return 2
	}

	runner, logger, code := setup(fs, &cf, stderr)
	if code != 0 {
		return code
	}
	defer logging.Sync(logger)

	_, err := runner.RunCleanup(ctx, fs.Arg(0), *wait, *exportPath)
	return exitCode(stderr, "cleanup", err)
}

func runExport(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var cf commonFlags
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 2 {
		_, _ = fmt.Fprintln(stderr, "export requires <list_name> <output.csv>")
		return 2
	}

	runner, logger, code := setup(fs, &cf, stderr)
	if code != 0 {
		return code
	}
	defer logging.Sync(logger)

	_, err := runner.RunExport(ctx, fs.Arg(0), fs.Arg(1))
	return exitCode(stderr, "export", err)
}

func exitCode(stderr io.Writer, cmd string, err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		_, _ = fmt.Fprintf(stderr, "%s interrupted\n", cmd)
		return 1
	}
	_, _ = fmt.Fprintf(stderr, "%s run failed: %s\n", cmd, redact.Secrets(err.Error()))
	return 1
}

// resolveAPIKey prefers the flag, then APOLLO_API_KEY, then the file named by
// APOLLO_API_KEY_FILE.
func resolveAPIKey(flagValue string) (string, error) {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(os.Getenv("APOLLO_API_KEY")); v != "" {
		return v, nil
	}
	path := strings.TrimSpace(os.Getenv("APOLLO_API_KEY_FILE"))
	if path == "" {
		return "", errors.New("API key is required (--api-key, APOLLO_API_KEY or APOLLO_API_KEY_FILE)")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read APOLLO_API_KEY_FILE: %w", err)
	}
	v := strings.TrimSpace(string(b))
	if v == "" {
		return "", errors.New("APOLLO_API_KEY_FILE is empty")
	}
	return v, nil
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintf(w, `contactsync: push CSV contacts into a directory service list

Usage:
  contactsync <command> [flags] <args>

Commands:
  upload   [flags] <list_name> <input.csv>    Resolve the list and submit every contact
  cleanup  [flags] <list_name>                Delete contacts on the list that were not enriched
  export   [flags] <list_name> <output.csv>   Write every contact on the list to CSV
  version                                     Print the version

Examples:
  contactsync upload "Q3 Leads" leads.csv
  contactsync upload --cleanup --wait 10m --export enriched.csv "Q3 Leads" leads.csv

Environment:
  APOLLO_API_KEY       API key (or pass --api-key)
  APOLLO_API_KEY_FILE  File path containing the API key
  APOLLO_BASE_URL      API base URL override (proxies/testing)
  CONTACTSYNC_CONFIG   YAML config file
  RATE_LIMIT_RPS       Global request rate limit, 0 disables
  REQUEST_TIMEOUT      Per-request timeout (e.g. 30s)
  MAX_ATTEMPTS         Total submission attempts per contact
  LOG_ENV              development, debug or production

`)
}
