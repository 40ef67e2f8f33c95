package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/askdoc/internal/auth"
	"github.com/efebarandurmaz/askdoc/internal/config"
	"github.com/efebarandurmaz/askdoc/internal/corpus"
	"github.com/efebarandurmaz/askdoc/internal/indexer"
	"github.com/efebarandurmaz/askdoc/internal/llm"
	"github.com/efebarandurmaz/askdoc/internal/llm/anthropic"
	"github.com/efebarandurmaz/askdoc/internal/llm/openai"
	"github.com/efebarandurmaz/askdoc/internal/observability"
	"github.com/efebarandurmaz/askdoc/internal/rag"
	"github.com/efebarandurmaz/askdoc/internal/secrets"
	"github.com/efebarandurmaz/askdoc/internal/server"
	"github.com/efebarandurmaz/askdoc/internal/vector"
)

const version = "0.1.0"

func main() {
	_ = godotenv.Load()

	var configPath string

	rootCmd := &cobra.Command{
		Use:   "askdoc",
		Short: "Retrieval-augmented medical question answering",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/askdoc.yaml", "Config file path")

	var corpusPath, indexPath string
	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Build the vector index from the QA corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(configPath, corpusPath, indexPath)
		},
	}
	indexCmd.Flags().StringVar(&corpusPath, "corpus", "", "Corpus JSON path (overrides config)")
	indexCmd.Flags().StringVar(&indexPath, "out", "", "Index output directory (overrides config)")

	var addr string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, addr)
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")

	var topK int
	askCmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a single question from the command line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(configPath, args[0], topK)
		},
	}
	askCmd.Flags().IntVar(&topK, "top-k", 0, "Retrieval depth (overrides config)")

	var convertInput, convertOutput string
	var convertLimit int
	convertCmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a MedQuAD XML dataset to the corpus JSON format",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := corpus.ConvertMedQuAD(convertInput, convertOutput, corpus.ConvertOptions{Limit: convertLimit})
			if err != nil {
				return err
			}
			fmt.Printf("Exported %d QA records to %s\n", n, convertOutput)
			return nil
		},
	}
	convertCmd.Flags().StringVar(&convertInput, "input", "", "MedQuAD directory (containing XML files)")
	convertCmd.Flags().StringVar(&convertOutput, "output", "data/medical_data.json", "Output JSON path")
	convertCmd.Flags().IntVar(&convertLimit, "limit", 0, "Max records to export (0 = all)")
	_ = convertCmd.MarkFlagRequired("input")

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List available LLM providers",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available LLM providers:")
			fmt.Println()
			for name, url := range llm.KnownProviders {
				fmt.Printf("  %-10s %s\n", name, url)
			}
			fmt.Println("  custom     (set base_url to any OpenAI-compatible endpoint)")
			fmt.Println()
			fmt.Println("Configure in askdoc.yaml or via environment:")
			fmt.Println("  ASKDOC_LLM_PROVIDER=ollama")
			fmt.Println("  ASKDOC_LLM_MODEL=llama3.1")
			fmt.Println("  ASKDOC_EMBED_MODEL=nomic-embed-text")
		},
	}

	rootCmd.AddCommand(indexCmd, serveCmd, askCmd, convertCmd, providersCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup(configPath string) (*config.Config, *secrets.Manager, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	setupLogging(cfg.Log)

	sec, err := secrets.NewManager(nil)
	if err != nil {
		return nil, nil, err
	}
	return cfg, sec, nil
}

func setupLogging(cfg config.LogConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// newFactory registers the built-in providers plus OpenAI-compatible presets.
func newFactory() *llm.ProviderFactory {
	factory := llm.NewFactory()
	factory.Register("anthropic", func(cfg llm.ProviderConfig) (llm.Provider, error) {
		return anthropic.New(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	})
	openaiCompat := func(cfg llm.ProviderConfig) (llm.Provider, error) {
		return openai.New(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.EmbedModel), nil
	}
	factory.Register("openai", openaiCompat)
	factory.Register("custom", openaiCompat)
	for _, preset := range []string{"groq", "ollama", "together"} {
		preset := preset
		factory.Register(preset, func(cfg llm.ProviderConfig) (llm.Provider, error) {
			if cfg.BaseURL == "" {
				cfg.BaseURL = llm.KnownProviders[preset]
			}
			return openai.New(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.EmbedModel), nil
		})
	}
	return factory
}

// buildProviders creates the generation and embedding providers. When no
// dedicated embedding provider is configured, the generation provider serves
// both roles.
func buildProviders(ctx context.Context, cfg *config.Config, sec *secrets.Manager) (generator, embedder llm.Provider, err error) {
	factory := newFactory()

	genCfg := llm.DefaultProviderConfig()
	genCfg.Provider = cfg.LLM.Provider
	genCfg.Model = cfg.LLM.Model
	genCfg.BaseURL = cfg.LLM.BaseURL
	genCfg.EmbedModel = cfg.Embed.Model
	genCfg.RequestsPerMinute = cfg.LLM.RequestsPerMinute
	genCfg.APIKey = cfg.LLM.APIKey
	if genCfg.APIKey == "" {
		genCfg.APIKey = sec.GetOrDefault(ctx, string(secrets.SecretLLMAPIKey), "")
	}

	generator, err = factory.Create(genCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating LLM provider: %w", err)
	}

	if cfg.Embed.Provider == "" {
		return generator, generator, nil
	}

	embedCfg := llm.DefaultProviderConfig()
	embedCfg.Provider = cfg.Embed.Provider
	embedCfg.Model = cfg.Embed.Model
	embedCfg.BaseURL = cfg.Embed.BaseURL
	embedCfg.EmbedModel = cfg.Embed.Model
	embedCfg.APIKey = cfg.Embed.APIKey
	if embedCfg.APIKey == "" {
		embedCfg.APIKey = sec.GetOrDefault(ctx, string(secrets.SecretEmbedAPIKey), "")
	}

	embedder, err = factory.Create(embedCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	return generator, embedder, nil
}

func runIndex(configPath, corpusOverride, indexOverride string) error {
	cfg, sec, err := setup(configPath)
	if err != nil {
		return err
	}
	if corpusOverride != "" {
		cfg.Corpus.Path = corpusOverride
	}
	if indexOverride != "" {
		cfg.Index.Path = indexOverride
	}

	ctx := context.Background()
	_, embedder, err := buildProviders(ctx, cfg, sec)
	if err != nil {
		return err
	}

	docs, err := corpus.Load(cfg.Corpus.Path)
	if err != nil {
		return err
	}
	slog.Info("corpus loaded", "path", cfg.Corpus.Path, "documents", len(docs))

	writer, err := newWriter(ctx, cfg, embedder)
	if err != nil {
		return err
	}
	defer writer.Close()

	if err := indexer.New(embedder, writer).Build(ctx, docs); err != nil {
		return err
	}
	fmt.Printf("Indexed %d documents\n", len(docs))
	return nil
}

func newWriter(ctx context.Context, cfg *config.Config, embedder llm.Provider) (vector.Writer, error) {
	switch cfg.Index.Backend {
	case "qdrant":
		return vector.NewQdrant(ctx, cfg.Index.Qdrant.Host, cfg.Index.Qdrant.Port, cfg.Index.Qdrant.Collection)
	case "local", "":
		return vector.NewLocalWriter(cfg.Index.Path, embedder.EmbedModel()), nil
	default:
		return nil, fmt.Errorf("unknown index backend: %s", cfg.Index.Backend)
	}
}

// openRepository loads the query-time index, enforcing the embedding model
// invariant for the local backend.
func openRepository(ctx context.Context, cfg *config.Config, embedder llm.Provider) (vector.Repository, error) {
	switch cfg.Index.Backend {
	case "qdrant":
		return vector.NewQdrant(ctx, cfg.Index.Qdrant.Host, cfg.Index.Qdrant.Port, cfg.Index.Qdrant.Collection)
	case "local", "":
		return vector.OpenLocal(cfg.Index.Path, embedder.EmbedModel())
	default:
		return nil, fmt.Errorf("unknown index backend: %s", cfg.Index.Backend)
	}
}

func buildEngine(ctx context.Context, cfg *config.Config, sec *secrets.Manager, topKOverride int) (*rag.Engine, vector.Repository, error) {
	generator, embedder, err := buildProviders(ctx, cfg, sec)
	if err != nil {
		return nil, nil, err
	}

	repo, err := openRepository(ctx, cfg, embedder)
	if err != nil {
		return nil, nil, err
	}

	topK := cfg.Index.TopK
	if topKOverride > 0 {
		topK = topKOverride
	}

	temp := cfg.LLM.Temperature
	engine, err := rag.NewEngine(generator, embedder, repo, rag.Options{
		TopK:          topK,
		HistoryWindow: cfg.Server.HistoryWindow,
		Temperature:   &temp,
	})
	if err != nil {
		repo.Close()
		return nil, nil, err
	}
	return engine, repo, nil
}

func runAsk(configPath, question string, topK int) error {
	cfg, sec, err := setup(configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	engine, repo, err := buildEngine(ctx, cfg, sec, topK)
	if err != nil {
		return err
	}
	defer repo.Close()

	answer, err := engine.Ask(ctx, question, nil)
	if err != nil {
		return err
	}

	fmt.Println(answer.Text)
	if len(answer.Citations) > 0 {
		fmt.Println("\nSources:")
		for _, c := range answer.Citations {
			fmt.Printf("  [%s] %s (%s, updated %s)\n", c.ID, c.Question, c.Source, c.UpdatedAt)
		}
	}
	return nil
}

func runServe(configPath, addrOverride string) error {
	cfg, sec, err := setup(configPath)
	if err != nil {
		return err
	}
	if addrOverride != "" {
		cfg.Server.Addr = addrOverride
	}

	ctx := context.Background()

	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "askdoc",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	// Fail fast: a missing or mismatched index refuses to serve rather than
	// silently returning empty answers.
	engine, repo, err := buildEngine(ctx, cfg, sec, 0)
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	defer repo.Close()

	tokens := cfg.Auth.Tokens
	if tokens == "" {
		tokens = sec.GetOrDefault(ctx, string(secrets.SecretAPITokens), "")
	}
	if tokens == "" {
		slog.Warn("no API tokens configured; all requests will be rejected")
	}
	verifier := auth.NewStaticVerifier(auth.ParseTokenList(tokens))

	health := server.NewHealthServer(version)
	health.RegisterCheck("index", func(ctx context.Context) server.HealthCheck {
		// Startup fails fast if the index cannot load, so a live process
		// always holds a usable index handle.
		return server.HealthCheck{
			Status:  server.HealthStatusHealthy,
			Message: fmt.Sprintf("backend=%s", cfg.Index.Backend),
		}
	})
	health.SetReady(true)

	srv := server.NewServer(&server.Config{Addr: cfg.Server.Addr}, engine, verifier, health)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	}
}
