package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/aschepis/bpmai/capability/vision"
	"github.com/aschepis/bpmai/config"
	"github.com/aschepis/bpmai/llm"
	bpmlogger "github.com/aschepis/bpmai/logger"
	"github.com/aschepis/bpmai/prompt"
	"github.com/aschepis/bpmai/skill"
	"github.com/aschepis/bpmai/tools"
)

// skillFlags are shared by the skill commands.
type skillFlags struct {
	commonFlags
	input       string
	ocrProvider string
	noASR       bool
}

func (s *skillFlags) register(fs *flag.FlagSet) {
	s.commonFlags.register(fs)
	fs.StringVar(&s.input, "input", "", `Input object as JSON, "@file" or "-" for stdin`)
	fs.StringVar(&s.ocrProvider, "ocr-provider", "", "Vision model used to read images for models without vision")
	fs.BoolVar(&s.noASR, "no-asr", false, "Do not transcribe audio inputs with Whisper")
}

// skillRun is the prepared state of a skill command.
type skillRun struct {
	*env
	ctx   context.Context
	input *skill.Input
	opts  []skill.Option
}

func prepareSkill(ctx context.Context, s *skillFlags) (*skillRun, error) {
	input := skill.NewInput()
	if err := decodeArg("input", s.input, input); err != nil {
		return nil, err
	}

	e, err := newEnv(&s.commonFlags)
	if err != nil {
		return nil, err
	}

	opts, err := skillOptions(e, s)
	if err != nil {
		_ = e.close()
		return nil, err
	}

	return &skillRun{
		env:   e,
		ctx:   e.context(ctx),
		input: input,
		opts:  opts,
	}, nil
}

// skillOptions wires OCR and speech recognition for multimodal inputs.
func skillOptions(e *env, s *skillFlags) ([]skill.Option, error) {
	var opts []skill.Option
	if s.ocrProvider != "" {
		visionModel, err := e.model(s.ocrProvider)
		if err != nil {
			return nil, fmt.Errorf("ocr model: %w", err)
		}
		ocr, err := vision.NewLLMOCR(visionModel)
		if err != nil {
			return nil, fmt.Errorf("ocr model %s: %w", s.ocrProvider, err)
		}
		opts = append(opts, skill.WithOCR(ocr))
	}
	if !s.noASR && e.cfg.OpenAI.APIKey != "" {
		asr, err := config.NewWhisper(e.cfg, e.storage, e.logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, skill.WithASR(asr))
	}
	return opts, nil
}

// finish prints the result and closes the environment.
func (r *skillRun) finish(result *skill.Result, err error) error {
	if closeErr := r.close(); closeErr != nil {
		r.logger.Warn().Err(closeErr).Msg("Failed to flush traces")
	}
	if err != nil {
		return err
	}
	switch {
	case result.Empty:
		return printJSON(nil)
	case result.Entities != nil:
		return printJSON(result.Entities)
	default:
		return printJSON(result.Values)
	}
}

func runDecide(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("decide", flag.ContinueOnError)
	var (
		s          skillFlags
		question   = fs.String("question", "", "Question or instruction to decide")
		outputType = fs.String("type", "boolean", "Type of the decision: boolean, string, integer or number")
		values     = fs.String("values", "", "Comma-separated possible values")
		strategy   = fs.String("strategy", "", `Prompting strategy, "cot" for chain of thought`)
		classifier = fs.Bool("classifier", false, "Use the embedding classifier instead of an LLM")
	)
	s.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	run, err := prepareSkill(ctx, &s)
	if err != nil {
		return err
	}

	params := skill.DecideParams{
		Question:   *question,
		OutputType: *outputType,
		Strategy:   *strategy,
	}
	if *values != "" {
		params.PossibleValues = lo.Map(strings.Split(*values, ","), func(v string, _ int) any {
			return strings.TrimSpace(v)
		})
	}

	if *classifier {
		c, err := config.NewClassifier(run.cfg, run.logger)
		if err != nil {
			return run.finish(nil, err)
		}
		return run.finish(skill.DecideClassifier(run.ctx, c, run.input, params, run.opts...))
	}

	model, err := run.model(s.provider)
	if err != nil {
		return run.finish(nil, err)
	}
	return run.finish(skill.DecideLLM(run.ctx, model, run.input, params, run.opts...))
}

func runExtract(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	var (
		s        skillFlags
		schema   = fs.String("schema", "", `Output schema as JSON, "@file" or "-"`)
		multiple = fs.Bool("multiple", false, "Extract a list of entities")
		entity   = fs.String("entity", "", "Description of the entities to extract with -multiple")
	)
	s.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	out := skill.NewSchema()
	if err := decodeArg("schema", *schema, out); err != nil {
		return err
	}
	run, err := prepareSkill(ctx, &s)
	if err != nil {
		return err
	}
	model, err := run.model(s.provider)
	if err != nil {
		return run.finish(nil, err)
	}

	params := skill.ExtractParams{Schema: out, Multiple: *multiple, MultipleDescription: *entity}
	return run.finish(skill.ExtractLLM(run.ctx, model, run.input, params, run.opts...))
}

func runTranslate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("translate", flag.ContinueOnError)
	var (
		s    skillFlags
		lang = fs.String("lang", "", `Target language, e.g. "German"`)
	)
	s.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	run, err := prepareSkill(ctx, &s)
	if err != nil {
		return err
	}
	model, err := run.model(s.provider)
	if err != nil {
		return run.finish(nil, err)
	}
	return run.finish(skill.TranslateLLM(run.ctx, model, run.input, *lang, run.opts...))
}

func runGeneric(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generic", flag.ContinueOnError)
	var (
		s            skillFlags
		instructions = fs.String("instructions", "", "Task instructions")
		schema       = fs.String("schema", "", `Output schema as JSON, "@file" or "-"`)
	)
	s.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	out := skill.NewSchema()
	if err := decodeArg("schema", *schema, out); err != nil {
		return err
	}
	run, err := prepareSkill(ctx, &s)
	if err != nil {
		return err
	}
	model, err := run.model(s.provider)
	if err != nil {
		return run.finish(nil, err)
	}
	return run.finish(skill.Generic(run.ctx, model, run.input, *instructions, out, run.opts...))
}

func runRender(args []string) error {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	var (
		template = fs.String("template", "", "Path to a .prompt template")
		vars     = fs.String("vars", "{}", `Template variables as JSON, "@file" or "-"`)
		provider = fs.String("provider", "", "Provider whose template variant is preferred")
		raw      = fs.Bool("raw", false, "Print the rendered text instead of the parsed messages")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *template == "" {
		return fmt.Errorf("-template is required")
	}

	var v map[string]any
	if err := decodeArg("vars", *vars, &v); err != nil {
		return err
	}

	p := prompt.FromFile(strings.TrimSuffix(*template, prompt.Extension), v)
	if *raw {
		text, err := p.Render(*provider)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	}
	messages, err := p.Format(*provider)
	if err != nil {
		return err
	}
	return printJSON(messages)
}

// toolSpecFile is the on-disk description of a remote tool.
type toolSpecFile struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

func (f toolSpecFile) spec() llm.ToolSpec {
	schema := llm.ToolSchema{Type: "object", Properties: map[string]any{}}
	for k, v := range f.InputSchema {
		switch k {
		case "type":
			if s, ok := v.(string); ok {
				schema.Type = s
			}
		case "properties":
			if props, ok := v.(map[string]any); ok {
				schema.Properties = props
			}
		case "required":
			if req, ok := v.([]any); ok {
				schema.Required = lo.FilterMap(req, func(r any, _ int) (string, bool) {
					s, ok := r.(string)
					return s, ok
				})
			}
		default:
			if schema.ExtraFields == nil {
				schema.ExtraFields = map[string]any{}
			}
			schema.ExtraFields[k] = v
		}
	}
	return llm.ToolSpec{Name: f.Name, Description: f.Description, Schema: schema}
}

func runTool(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tool", flag.ContinueOnError)
	var (
		c        commonFlags
		baseURL  = fs.String("url", "", "Base URL of the tool server")
		token    = fs.String("token", os.Getenv("BPMAI_TOOL_TOKEN"), "Bearer token for the tool server")
		specs    = fs.String("spec", "", `Tool specs as a JSON list, "@file" or "-"`)
		name     = fs.String("name", "", "Tool to invoke")
		toolArgs = fs.String("args", "{}", `Tool arguments as JSON, "@file" or "-"`)
	)
	c.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *baseURL == "" || *name == "" {
		return fmt.Errorf("-url and -name are required")
	}

	var files []toolSpecFile
	if err := decodeArg("spec", *specs, &files); err != nil {
		return err
	}
	var payload map[string]any
	if err := decodeArg("args", *toolArgs, &payload); err != nil {
		return err
	}

	e, err := newEnv(&c)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.close(); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to flush traces")
		}
	}()

	registry := tools.NewRegistry(e.logger)
	caller := tools.NewHTTPRemoteCaller(*baseURL, *token)
	for _, f := range files {
		if err := registry.Register(tools.RemoteTool(f.spec(), caller)); err != nil {
			return err
		}
	}

	call := &llm.AssistantMessage{ToolCalls: []llm.ToolCall{{ID: uuid.NewString(), Name: *name, Payload: payload}}}
	results, err := tools.NewExecutor(registry, tools.Sequential, e.logger).RunAll(e.context(ctx), call)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Println(llm.ContentText(r.Content))
	}
	return nil
}

func runTraces(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("traces", flag.ContinueOnError)
	var (
		configPath = fs.String("config", "", "Path to config file")
		limit      = fs.Int("limit", 20, "Number of traces to list")
		traceID    = fs.String("id", "", "Show the events of this trace")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger, err := bpmlogger.InitWithOptions("", false)
	if err != nil {
		return err
	}
	path := *configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	store, err := config.OpenTraceStore(cfg, "", logger)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck // No remedy for db close errors

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush() //nolint:errcheck // Flush error can be ignored

	if *traceID != "" {
		events, err := store.Events(ctx, *traceID)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "SEQ\tKIND\tNAME\tATTEMPT\tERROR")
		for _, ev := range events {
			name := strings.Repeat("  ", ev.Depth) + ev.Name
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", ev.Seq, ev.Kind, name, ev.Attempt, ev.Error)
		}
		return nil
	}

	traces, err := store.ListTraces(ctx, *limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "ID\tNAME\tSTARTED\tDURATION\tERROR")
	for _, tr := range traces {
		duration := "-"
		if tr.EndedAt != nil {
			duration = tr.EndedAt.Sub(tr.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", tr.ID, tr.Name, tr.StartedAt.Format(time.RFC3339), duration, tr.Error)
	}
	return nil
}
