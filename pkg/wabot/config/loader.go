package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches environment variable references in config
// values: ${VAR}, ${VAR:-default}, and ${VAR:?error}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}`)

// Load reads and parses a YAML configuration file. .env files are
// loaded first (without overriding existing env vars), then ${VAR}
// references are expanded, and finally secrets are resolved through
// the keyring/env chain.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := Parse([]byte(expanded))
	if err != nil {
		return nil, err
	}

	resolveSecrets(cfg)
	return cfg, nil
}

// Parse parses YAML bytes over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML with owner-only permissions.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches standard locations for a config file.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"wabot.yaml",
		"wabot.yml",
		"configs/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadEnvFiles loads .env files from standard locations. godotenv does
// not overwrite already-set env vars.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars substitutes ${VAR} references. A ${VAR:?message}
// pattern fails the load when the variable is unset.
func expandEnvVars(s string) (string, error) {
	var expandErr error

	out := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, modifier, arg := groups[1], groups[2], groups[3]

		if val, ok := os.LookupEnv(name); ok && val != "" {
			return val
		}

		switch modifier {
		case "-":
			return arg
		case "?":
			msg := arg
			if msg == "" {
				msg = "required variable " + name + " is not set"
			}
			if expandErr == nil {
				expandErr = fmt.Errorf("%s", msg)
			}
			return ""
		default:
			return ""
		}
	})

	return out, expandErr
}

// resolveSecrets fills empty secret fields from the keyring first,
// then from well-known environment variables. Values already present
// in the config are kept.
func resolveSecrets(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = firstNonEmpty(
			GetKeyring(keyringLLMAPIKey),
			os.Getenv("WABOT_API_KEY"),
			os.Getenv("OPENAI_API_KEY"),
		)
	}
	if cfg.Search.Tavily.APIKey == "" {
		cfg.Search.Tavily.APIKey = firstNonEmpty(
			GetKeyring(keyringTavilyAPIKey),
			os.Getenv("TAVILY_API_KEY"),
		)
	}
	if cfg.State.Redis.Password == "" {
		cfg.State.Redis.Password = os.Getenv("REDIS_PASSWORD")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
