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

	"codex-stream/internal/adapter/usage"
	"codex-stream/internal/domain"
	"codex-stream/internal/infra/config"
	"codex-stream/internal/infra/logger"
	"codex-stream/internal/infra/tracer"
	"codex-stream/internal/usecase/eventbus"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage(os.Stdout)
			return
		case "usage":
			if err := runUsage(os.Args[2:], os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "usage: %v\n", err)
				os.Exit(1)
			}
			return
		case "encrypt":
			if err := runEncrypt(os.Stdin, os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, domain.ErrAborted) {
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage(w io.Writer) {
	fmt.Fprintln(w, `codexstream - stream a model response from a Responses API endpoint

USAGE:
    codexstream [FLAGS] [PROMPT...]
    codexstream usage [--config PATH] [--provider NAME] [-n N]
    codexstream encrypt < secret

COMMANDS:
    (no command)  Send PROMPT (or stdin) and print the answer as it streams
    usage         Show recorded token usage
    encrypt       Encrypt a secret for the config file with CODEXSTREAM_CONFIG_KEY

FLAGS:
    -h, --help            Show this help message
    --config PATH         Config file (default: ./codexstream.yaml)
    --provider NAME       Provider to use instead of llm.default_provider
    --model NAME          Model to use instead of the provider's model
    --instructions TEXT   Override the base instructions
    --schema FILE         Constrain the final answer to a JSON schema
    --reasoning           Print reasoning summaries to stderr

CONFIGURATION:
    Environment: CODEXSTREAM_* variables override config`)
}

// streamFlags holds the flags of the default command.
type streamFlags struct {
	ConfigPath   string
	Provider     string
	Model        string
	Instructions string
	SchemaPath   string
	Reasoning    bool
	Args         []string
}

func parseStreamFlags(args []string) (streamFlags, error) {
	var f streamFlags
	fs := flag.NewFlagSet("codexstream", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&f.ConfigPath, "config", defaultConfigPath(), "config file")
	fs.StringVar(&f.Provider, "provider", "", "provider name")
	fs.StringVar(&f.Model, "model", "", "model name")
	fs.StringVar(&f.Instructions, "instructions", "", "base instructions override")
	fs.StringVar(&f.SchemaPath, "schema", "", "output JSON schema file")
	fs.BoolVar(&f.Reasoning, "reasoning", false, "print reasoning summaries")
	if err := fs.Parse(args); err != nil {
		return streamFlags{}, err
	}
	f.Args = fs.Args()
	return f, nil
}

func defaultConfigPath() string {
	if p := os.Getenv("CODEXSTREAM_CONFIG"); p != "" {
		return p
	}
	return "codexstream.yaml"
}

func run(args []string) error {
	// 1. Flags & config
	flags, err := parseStreamFlags(args)
	if err != nil {
		return err
	}
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := applyStreamFlags(cfg, flags); err != nil {
		return err
	}

	prompt, err := buildPrompt(flags, os.Stdin)
	if err != nil {
		return err
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Usage ledger. Opened before the bus so the bus drains first.
	var store *usage.SQLiteStore
	if cfg.Usage.Enabled {
		store, err = usage.NewSQLiteStore(cfg.Usage.Path)
		if err != nil {
			return fmt.Errorf("usage: %w", err)
		}
		defer store.Close()
	}

	// 4. Lifecycle bus
	bus := eventbus.New(log)
	defer bus.Close()
	if store != nil {
		detach := usage.Attach(bus, store, log)
		defer detach()
	}

	// 5. Clients
	clients, err := initClients(cfg, bus, log)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	// 6. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Debug("codexstream starting",
		"provider", clients.Default.Name(),
		"providers", clients.Registry.List(),
		"usage", store != nil,
	)

	s, err := clients.Default.Stream(ctx, prompt)
	if err != nil {
		return err
	}
	res, err := render(ctx, s, os.Stdout, os.Stderr, flags.Reasoning)
	if err != nil {
		return err
	}
	printSummary(os.Stderr, res)
	return nil
}

// applyStreamFlags folds the command-line overrides into cfg.
func applyStreamFlags(cfg *config.Config, flags streamFlags) error {
	if flags.Provider != "" {
		if _, ok := cfg.Provider(flags.Provider); !ok {
			return fmt.Errorf("provider %q: %w", flags.Provider, domain.ErrProviderNotFound)
		}
		cfg.LLM.DefaultProvider = flags.Provider
	}
	if flags.Model != "" {
		for i := range cfg.LLM.Providers {
			if cfg.LLM.Providers[i].Name == cfg.LLM.DefaultProvider {
				cfg.LLM.Providers[i].Model = flags.Model
			}
		}
	}
	return nil
}

// buildPrompt takes the prompt from the positional arguments, or from stdin
// when there are none or the only one is "-".
func buildPrompt(flags streamFlags, stdin io.Reader) (domain.Prompt, error) {
	text := strings.Join(flags.Args, " ")
	if text == "" || text == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return domain.Prompt{}, fmt.Errorf("read prompt: %w", err)
		}
		text = string(data)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Prompt{}, domain.NewDomainError("buildPrompt", domain.ErrInvalidInput, "no prompt given")
	}

	p := domain.Prompt{
		Input:                    []domain.ResponseItem{domain.UserMessage(text)},
		BaseInstructionsOverride: flags.Instructions,
	}
	if flags.SchemaPath != "" {
		schema, err := os.ReadFile(flags.SchemaPath)
		if err != nil {
			return domain.Prompt{}, fmt.Errorf("read schema: %w", err)
		}
		p.OutputSchema = schema
	}
	return p, nil
}

func runEncrypt(stdin io.Reader, stdout io.Writer) error {
	passphrase := os.Getenv("CODEXSTREAM_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("CODEXSTREAM_CONFIG_KEY is not set")
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("read secret: %w", err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return fmt.Errorf("empty secret")
	}
	enc, err := config.EncryptValue(secret, passphrase)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "enc:%s\n", enc)
	return err
}
