package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration: yaml file, overlaid with
// environment variables, then defaults.
type Config struct {
	Reader struct {
		Token     string  `yaml:"token"`
		BaseURL   string  `yaml:"base_url"`
		RateLimit float64 `yaml:"rate_limit"`
	} `yaml:"reader"`

	Pinecone struct {
		APIKey string `yaml:"api_key"`
		Index  string `yaml:"index"`
		Host   string `yaml:"host"`
	} `yaml:"pinecone"`

	Embedding struct {
		APIKey       string `yaml:"api_key"`
		Model        string `yaml:"model"`
		Dim          int    `yaml:"dim"`
		ContextLimit int    `yaml:"context_limit"`
	} `yaml:"embedding"`

	Rewriter struct {
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model"`
	} `yaml:"rewriter"`

	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`

	Chunker struct {
		MinTokens  int     `yaml:"min_tokens"`
		MaxTokens  int     `yaml:"max_tokens"`
		WindowSize int     `yaml:"window_size"`
		Threshold  float64 `yaml:"threshold"`
	} `yaml:"chunker"`

	Retriever struct {
		TopK           int     `yaml:"top_k"`
		HeaderTopK     int     `yaml:"header_top_k"`
		MinScore       float32 `yaml:"min_score"`
		HeaderMinScore float32 `yaml:"header_min_score"`
	} `yaml:"retriever"`

	Sync struct {
		LastSyncTime string `yaml:"last_sync_time"`
	} `yaml:"sync"`
}

// LoadConfig reads the yaml file at path, or the default locations when
// path is empty, then merges environment variables and applies defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/marginalia/config.yaml"),
			"/etc/marginalia/config.yaml",
		}
		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	config := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Reader.BaseURL == "" {
		config.Reader.BaseURL = "https://readwise.io/api/v3"
	}
	if config.Reader.RateLimit == 0 {
		config.Reader.RateLimit = 1.0
	}

	if config.Embedding.Model == "" {
		config.Embedding.Model = "text-embedding-3-small"
	}
	if config.Embedding.Dim == 0 {
		config.Embedding.Dim = 1536
	}
	if config.Embedding.ContextLimit == 0 {
		config.Embedding.ContextLimit = 8191
	}

	if config.Rewriter.Model == "" {
		config.Rewriter.Model = "gemini-1.5-flash"
	}

	if config.Chunker.MinTokens == 0 {
		config.Chunker.MinTokens = 300
	}
	if config.Chunker.MaxTokens == 0 {
		config.Chunker.MaxTokens = 800
	}
	if config.Chunker.WindowSize == 0 {
		config.Chunker.WindowSize = 1
	}
	if config.Chunker.Threshold == 0 {
		config.Chunker.Threshold = 0.75
	}

	if config.Retriever.TopK == 0 {
		config.Retriever.TopK = 15
	}
	if config.Retriever.HeaderTopK == 0 {
		config.Retriever.HeaderTopK = 10
	}
	if config.Retriever.MinScore == 0 {
		config.Retriever.MinScore = 0.25
	}
	if config.Retriever.HeaderMinScore == 0 {
		config.Retriever.HeaderMinScore = 0.35
	}
}

func mergeWithEnv(config *Config) {
	if token := os.Getenv("READWISE_TOKEN"); token != "" {
		config.Reader.Token = token
	}
	if key := os.Getenv("PINECONE_API_KEY"); key != "" {
		config.Pinecone.APIKey = key
	}
	if index := os.Getenv("PINECONE_INDEX"); index != "" {
		config.Pinecone.Index = index
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		config.Embedding.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.Rewriter.APIKey = key
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		config.Database.URL = url
	}
	if ts := os.Getenv("LAST_SYNC_TIME"); ts != "" {
		config.Sync.LastSyncTime = ts
	}
}
