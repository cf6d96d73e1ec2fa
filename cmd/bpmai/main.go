package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/aschepis/bpmai/blob"
	"github.com/aschepis/bpmai/config"
	ctxpkg "github.com/aschepis/bpmai/context"
	"github.com/aschepis/bpmai/llm"
	bpmlogger "github.com/aschepis/bpmai/logger"
	"github.com/aschepis/bpmai/tracing"
)

const usage = `Usage: bpmai <command> [flags]

Commands:
  decide     Decide a question about the input
  extract    Extract structured information from the input
  translate  Translate the input values
  generic    Run free-form instructions producing a structured result
  render     Render a prompt template into messages
  tool       Invoke a remote tool
  traces     List stored traces or show the events of one trace

Run 'bpmai <command> -h' for the flags of a command.
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(os.Stderr, usage)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "decide":
		return runDecide(ctx, rest)
	case "extract":
		return runExtract(ctx, rest)
	case "translate":
		return runTranslate(ctx, rest)
	case "generic":
		return runGeneric(ctx, rest)
	case "render":
		return runRender(rest)
	case "tool":
		return runTool(ctx, rest)
	case "traces":
		return runTraces(ctx, rest)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// commonFlags are shared by every command talking to a model.
type commonFlags struct {
	configPath string
	provider   string
	logFile    string
	pretty     bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Path to config file (default: $BPMAI_CONFIG_PATH or ~/.bpmai/config.yaml)")
	fs.StringVar(&c.provider, "provider", "", `Provider and optional model, e.g. "openai" or "ollama/llava"`)
	fs.StringVar(&c.logFile, "logfile", "", "Path to log file. If not set, logs to stderr")
	fs.BoolVar(&c.pretty, "pretty", false, "Use pretty console output (only valid when logfile is not set)")
}

// env is what a command needs to run a skill.
type env struct {
	runID   string
	cfg     *config.Config
	logger  zerolog.Logger
	storage *blob.Storage
	clients *llm.ClientRegistry
	tracer  tracing.Tracer
	closeFn func() error
}

func newEnv(c *commonFlags) (*env, error) {
	if c.logFile != "" && c.pretty {
		return nil, fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}
	logger, err := bpmlogger.InitWithOptions(c.logFile, c.pretty)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	path := c.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	storage, err := config.NewStorage(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob storage: %w", err)
	}

	runID := uuid.NewString()
	tracer, closeFn, err := config.NewTracer(cfg, runID, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	logger.Debug().Str("run_id", runID).Str("config", path).Msg("Environment ready")

	return &env{
		runID:   runID,
		cfg:     cfg,
		logger:  logger,
		storage: storage,
		clients: llm.NewClientRegistry(config.NewClientFactory(storage, logger)),
		tracer:  tracer,
		closeFn: closeFn,
	}, nil
}

// context carries the tracer and run id of this invocation.
func (e *env) context(ctx context.Context) context.Context {
	return tracing.WithTracer(ctxpkg.WithRunID(ctx, e.runID), e.tracer)
}

// model resolves the model named by provider.
func (e *env) model(provider string) (*llm.Model, error) {
	return config.NewModel(e.cfg, provider, e.clients, e.logger)
}

// close flushes the tracer and releases the trace database.
func (e *env) close() error {
	return errors.Join(e.tracer.Finalize(), e.closeFn())
}

// readArg returns s, or the contents of the file when s starts with "@", or stdin for "-".
func readArg(s string) ([]byte, error) {
	switch {
	case s == "-":
		return io.ReadAll(os.Stdin)
	case strings.HasPrefix(s, "@"):
		return os.ReadFile(s[1:]) //#nosec G304 -- user-selected input file
	default:
		return []byte(s), nil
	}
}

// decodeArg decodes the JSON given by readArg into v.
func decodeArg(name, s string, v any) error {
	if s == "" {
		return fmt.Errorf("-%s is required", name)
	}
	data, err := readArg(s)
	if err != nil {
		return fmt.Errorf("read -%s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse -%s: %w", name, err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
