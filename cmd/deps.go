package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/ai"
	"github.com/spigell/resume-matcher/internal/ai/gemini"
	"github.com/spigell/resume-matcher/internal/ai/verdictcache"
	"github.com/spigell/resume-matcher/internal/corpus"
	"github.com/spigell/resume-matcher/internal/corpus/postgres"
	"github.com/spigell/resume-matcher/internal/corpus/sqlite"
	"github.com/spigell/resume-matcher/internal/embedding"
	"github.com/spigell/resume-matcher/internal/embedding/cache"
	"github.com/spigell/resume-matcher/internal/embedding/openai"
	"github.com/spigell/resume-matcher/internal/logger"
	"github.com/spigell/resume-matcher/internal/secrets"
)

// deps lazily builds the collaborators a command needs and closes them at exit.
type deps struct {
	ctx    context.Context
	cancel context.CancelFunc
	config *Config
	logger *zap.Logger

	store     corpus.Store
	generator *gemini.Generator
	judge     *gemini.Judge
	closers   []func() error
}

func newDeps() *deps {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return &deps{ctx: ctx, cancel: cancel, config: config, logger: logger}
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Warn("closing a dependency", zap.Error(err))
		}
	}
	d.cancel()
	d.logger.Sync()
}

func (d *deps) Store() (corpus.Store, error) {
	if d.store != nil {
		return d.store, nil
	}

	cfg := d.config.Store
	dimension := d.config.Embedding.Dimension

	var (
		store corpus.Store
		err   error
	)
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "sqlite":
		store, err = sqlite.Open(d.ctx, sqlite.Options{Path: cfg.Path, Dimension: dimension})
	case "postgres", "postgresql":
		var dsn string
		dsn, err = secrets.Load(secrets.Source{Name: "database url", Value: cfg.DSN, File: cfg.DSNFile})
		if err != nil {
			return nil, fmt.Errorf("%w (set store.dsn, DATABASE_URL or DATABASE_URL_FILE)", err)
		}
		store, err = postgres.Open(d.ctx, postgres.Options{DSN: dsn, Dimension: dimension})
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	d.store = corpus.WithLogging(store, d.logger)
	d.closers = append(d.closers, d.store.Close)
	return d.store, nil
}

func (d *deps) geminiGenerator() (*gemini.Generator, error) {
	if d.generator != nil {
		return d.generator, nil
	}

	cfg := d.config.AI.Gemini
	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.APIKey,
		File:  cfg.APIKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file, GEMINI_API_KEY_FILE or GEMINI_API_KEY)", err)
	}

	genLogger := logger.WithCommonFields(d.logger, "gemini", cfg.Model).With(
		zap.Int("ai_retry_attempts", cfg.MaxRetries),
	)

	d.generator, err = gemini.NewGenerator(d.ctx, apiKey, cfg.Model, cfg.MaxRetries, genLogger)
	if err != nil {
		return nil, err
	}
	return d.generator, nil
}

// Embedder builds the embedding provider with its on-disk cache.
func (d *deps) Embedder() (*embedding.Provider, error) {
	cfg := d.config.Embedding

	var (
		model embedding.Model
		err   error
	)
	switch provider := strings.ToLower(strings.TrimSpace(cfg.Provider)); provider {
	case "", "gemini":
		generator, err := d.geminiGenerator()
		if err != nil {
			return nil, err
		}
		model = gemini.NewEmbedder(generator, cfg.Model, cfg.Dimension)
	case "openai", "ollama":
		model, err = d.openAIEmbedder(provider)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	opts := embedding.Options{Dimension: cfg.Dimension, BatchSize: cfg.BatchSize}
	if dir := strings.TrimSpace(cfg.CacheDir); dir != "" {
		c, err := cache.Open(dir)
		if err != nil {
			return nil, err
		}
		opts.Cache = c
	}

	return embedding.NewProvider(model, opts, logger.WithCommonFields(d.logger, cfg.Provider, cfg.Model))
}

func (d *deps) openAIEmbedder(provider string) (*openai.Client, error) {
	cfg := d.config.Embedding

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "openai api key",
		Value: cfg.OpenAI.APIKey,
		File:  cfg.OpenAI.APIKeyFile,
		Env:   "OPENAI_API_KEY",
	})
	if err != nil {
		// Local OpenAI-compatible servers such as Ollama run without a key.
		if provider != "ollama" && cfg.OpenAI.BaseURL == "" {
			return nil, err
		}
		apiKey = ""
	}

	return openai.NewClient(openai.Config{
		BaseURL:    cfg.OpenAI.BaseURL,
		APIKey:     apiKey,
		Model:      cfg.Model,
		Dimensions: cfg.Dimension,
		Timeout:    cfg.OpenAI.Timeout,
		MaxRetries: cfg.OpenAI.MaxRetries,
	}, logger.WithCommonFields(d.logger, provider, cfg.Model))
}

func (d *deps) geminiJudge() (*gemini.Judge, error) {
	if d.judge != nil {
		return d.judge, nil
	}

	cfg := d.config.AI
	if provider := strings.ToLower(strings.TrimSpace(cfg.Provider)); provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	generator, err := d.geminiGenerator()
	if err != nil {
		return nil, err
	}

	d.judge = gemini.NewJudge(generator, logger.WithCommonFields(d.logger, "gemini", cfg.Gemini.Model), cfg.Gemini.MaxLogLength)
	return d.judge, nil
}

// Judge returns the remote judge behind the verdict cache when one is configured.
func (d *deps) Judge() (ai.Judge, error) {
	judge, err := d.geminiJudge()
	if err != nil {
		return nil, err
	}

	path := strings.TrimSpace(d.config.AI.VerdictCache)
	if path == "" {
		return judge, nil
	}

	cached, err := verdictcache.Open(path, judge, d.logger.With(zap.String("component", "verdict_cache")))
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, cached.Close)
	return cached, nil
}

func (d *deps) Profiles() (ai.ProfileExtractor, error) {
	judge, err := d.geminiJudge()
	if err != nil {
		return nil, err
	}
	return judge, nil
}

func (d *deps) fatal(msg string, err error) {
	fields := []zap.Field{zap.Error(err)}
	if errors.Is(err, context.Canceled) {
		fields = append(fields, zap.String("reason", "interrupted"))
	}
	d.Close()
	d.logger.Fatal(msg, fields...)
}
