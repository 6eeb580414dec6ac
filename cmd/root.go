package cmd

import (
	"errors"
	"io/fs"
	"log"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app       = "resume-matcher"
	envPrefix = "RESUME_MATCHER"
)

type Config struct {
	Store     *StoreConfig     `mapstructure:"store"`
	Embedding *EmbeddingConfig `mapstructure:"embedding"`
	AI        *AIConfig        `mapstructure:"ai"`
	Import    *ImportConfig    `mapstructure:"import"`
	Match     *MatchConfig     `mapstructure:"match"`
}

type StoreConfig struct {
	// Driver is sqlite or postgres.
	Driver  string `mapstructure:"driver"`
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
	DSNFile string `mapstructure:"dsn-file"`
}

type EmbeddingConfig struct {
	// Provider is gemini or openai. The openai provider also serves Ollama and
	// other compatible endpoints through openai.base-url.
	Provider  string        `mapstructure:"provider"`
	Model     string        `mapstructure:"model"`
	Dimension int           `mapstructure:"dimension"`
	BatchSize int           `mapstructure:"batch-size"`
	CacheDir  string        `mapstructure:"cache-dir"`
	OpenAI    *OpenAIConfig `mapstructure:"openai"`
}

type OpenAIConfig struct {
	BaseURL    string        `mapstructure:"base-url"`
	APIKey     string        `mapstructure:"api-key"`
	APIKeyFile string        `mapstructure:"api-key-file"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max-retries"`
}

type AIConfig struct {
	Provider          string        `mapstructure:"provider"`
	Concurrency       int           `mapstructure:"concurrency"`
	RequestsPerSecond float64       `mapstructure:"requests-per-second"`
	Timeout           time.Duration `mapstructure:"timeout"`
	// VerdictCache is a bbolt file. Empty disables caching.
	VerdictCache string        `mapstructure:"verdict-cache"`
	Gemini       *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

type ImportConfig struct {
	Directory       string        `mapstructure:"directory"`
	Workers         int           `mapstructure:"workers"`
	ErrorSamples    int           `mapstructure:"error-samples"`
	DocumentTimeout time.Duration `mapstructure:"document-timeout"`
}

type MatchConfig struct {
	TopN          int     `mapstructure:"top-n"`
	MinSimilarity float64 `mapstructure:"min-similarity"`
	Candidates    int     `mapstructure:"candidates"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: app + " ranks a corpus of resumes against a vacancy by semantic similarity and an AI judge",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	setDefaults(viper.GetViper())

	for key, env := range map[string]string{
		"ai.gemini.api-key":             "GEMINI_API_KEY",
		"ai.gemini.api-key-file":        "GEMINI_API_KEY_FILE",
		"embedding.openai.api-key-file": "OPENAI_API_KEY_FILE",
		"store.dsn":                     "DATABASE_URL",
		"store.dsn-file":                "DATABASE_URL_FILE",
	} {
		if err := viper.BindEnv(key, envPrefix+"_"+envKey(key), env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is "+app+".yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "./data/corpus.db")

	v.SetDefault("embedding.provider", "gemini")
	v.SetDefault("embedding.model", "gemini-embedding-001")
	v.SetDefault("embedding.dimension", 768)
	v.SetDefault("embedding.batch-size", 32)
	v.SetDefault("embedding.cache-dir", "./data/embeddings")
	v.SetDefault("embedding.openai.timeout", "30s")
	v.SetDefault("embedding.openai.max-retries", 5)

	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.concurrency", 5)
	v.SetDefault("ai.requests-per-second", 2)
	v.SetDefault("ai.timeout", "60s")
	v.SetDefault("ai.verdict-cache", "./data/verdicts.db")
	v.SetDefault("ai.gemini.model", "gemini-2.5-flash")
	v.SetDefault("ai.gemini.max-retries", 3)
	v.SetDefault("ai.gemini.max-log-length", 500)

	v.SetDefault("import.directory", "./resumes")
	v.SetDefault("import.workers", runtime.NumCPU())
	v.SetDefault("import.error-samples", 5)
	v.SetDefault("import.document-timeout", "5m")

	v.SetDefault("match.top-n", 10)
	v.SetDefault("match.min-similarity", 0.3)
	v.SetDefault("match.candidates", 30)
}

func envKey(key string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

func initConfig() {
	// A missing .env is fine; a broken one is not.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			// We can't proceed if the config file parsed with error.
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	return decodeConfig(viper.GetViper())
}

func decodeConfig(v *viper.Viper) (*Config, error) {
	var config *Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if config == nil {
		return nil, errors.New("empty configuration")
	}

	if config.Store == nil {
		config.Store = &StoreConfig{}
	}
	if config.Embedding == nil {
		config.Embedding = &EmbeddingConfig{}
	}
	if config.Embedding.OpenAI == nil {
		config.Embedding.OpenAI = &OpenAIConfig{}
	}
	if config.AI == nil {
		config.AI = &AIConfig{}
	}
	if config.AI.Gemini == nil {
		config.AI.Gemini = &GeminiConfig{}
	}
	if config.Import == nil {
		config.Import = &ImportConfig{}
	}
	if config.Match == nil {
		config.Match = &MatchConfig{}
	}

	return config, nil
}
