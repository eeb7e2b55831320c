// Package config loads scenariogen.yaml: defaults, then the file, then
// environment overrides, and resolves the configured targets.
package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dshills/scenariogen/internal/pipeline"
	"github.com/dshills/scenariogen/pkg/types"
)

// DefaultFile is the configuration file looked up in the project root.
const DefaultFile = "scenariogen.yaml"

// Environment overrides.
const (
	EnvCacheDir          = "SCENARIOGEN_CACHE_DIR"
	EnvParallelism       = "SCENARIOGEN_PARALLELISM"
	EnvEmbeddingProvider = "SCENARIOGEN_EMBEDDING_PROVIDER"
	EnvPlanner           = "SCENARIOGEN_PLANNER"
	EnvCompiler          = "SCENARIOGEN_CXX"
	EnvGeminiAPIKey      = "GEMINI_API_KEY"
)

// Config holds all scenariogen configuration.
type Config struct {
	// Paths, relative to the project root
	CacheDir  string `yaml:"cache_dir"`
	StateDB   string `yaml:"state_db"`
	OutputDir string `yaml:"output_dir"`

	Parallelism int    `yaml:"parallelism"`
	Compiler    string `yaml:"compiler"`
	// DefaultFlags apply to every target before its own flags.
	DefaultFlags []string `yaml:"default_flags"`

	Embedding EmbeddingConfig `yaml:"embedding"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
	Logging   LoggingConfig   `yaml:"logging"`

	Targets []TargetConfig `yaml:"targets"`

	// root is the directory the configuration was loaded from.
	root string
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // local, openai, jina, genai
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	Dimension int    `yaml:"dimension"`
	CacheSize int    `yaml:"cache_size"`
}

// SynthesisConfig configures scenario planning.
type SynthesisConfig struct {
	Planner string `yaml:"planner"` // heuristic, genai
	Model   string `yaml:"model"`
	Verbose bool   `yaml:"verbose"`
	APIKey  string `yaml:"-"`
}

// SearchConfig configures symbol search.
type SearchConfig struct {
	CacheSize int `yaml:"cache_size"`
	Limit     int `yaml:"limit"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TargetConfig is one build target as written in the file.
type TargetConfig struct {
	Name        string   `yaml:"name"`
	Dir         string   `yaml:"dir,omitempty"`
	Sources     []string `yaml:"sources,omitempty"`
	IncludeDirs []string `yaml:"include_dirs,omitempty"`
	Defines     []string `yaml:"defines,omitempty"`
	Std         string   `yaml:"std,omitempty"`
	Flags       []string `yaml:"flags,omitempty"`
	Link        []string `yaml:"link,omitempty"`
	TestName    string   `yaml:"test_name,omitempty"`
	Filter      string   `yaml:"filter,omitempty"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		CacheDir:    ".scenariogen/cache",
		StateDB:     ".scenariogen/state.db",
		OutputDir:   ".scenariogen/out",
		Parallelism: pipeline.DefaultParallelism,
		Compiler:    "c++",
		Embedding: EmbeddingConfig{
			CacheSize: 10000,
		},
		Synthesis: SynthesisConfig{
			Planner: "heuristic",
			Model:   "gemini-2.5-flash",
		},
		Search: SearchConfig{
			CacheSize: 256,
			Limit:     10,
		},
		Watch: WatchConfig{
			Debounce: "300ms",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		root: ".",
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults rooted at the file's directory. Environment overrides apply
// either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}
	cfg.root = filepath.Dir(abs)

	data, err := os.ReadFile(abs)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("%w: failed to read config: %v", types.ErrConfiguration, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to parse config %s: %v", types.ErrConfiguration, path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from the .env file in dir when one
// exists. Variables already set in the environment win.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("%w: failed to load %s: %v", types.ErrConfiguration, path, err)
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if dir := os.Getenv(EnvCacheDir); dir != "" {
		c.CacheDir = dir
	}
	if v := os.Getenv(EnvParallelism); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", types.ErrConfiguration, EnvParallelism, v)
		}
		c.Parallelism = n
	}
	if p := os.Getenv(EnvEmbeddingProvider); p != "" {
		c.Embedding.Provider = strings.ToLower(p)
	}
	if p := os.Getenv(EnvPlanner); p != "" {
		c.Synthesis.Planner = strings.ToLower(p)
	}
	if cxx := os.Getenv(EnvCompiler); cxx != "" {
		c.Compiler = cxx
	}
	if key := os.Getenv(EnvGeminiAPIKey); key != "" {
		c.Synthesis.APIKey = key
	}
	return nil
}

// ValidPlanners lists the supported scenario planners.
var ValidPlanners = []string{"heuristic", "genai"}

// Validate reports a ConfigurationError for unusable settings.
func (c *Config) Validate() error {
	if c.Parallelism <= 0 {
		return fmt.Errorf("%w: parallelism must be > 0, got %d", types.ErrConfiguration, c.Parallelism)
	}
	valid := false
	for _, p := range ValidPlanners {
		if c.Synthesis.Planner == p {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: invalid planner %q (valid: %v)", types.ErrConfiguration, c.Synthesis.Planner, ValidPlanners)
	}
	if c.Synthesis.Planner == "genai" && c.Synthesis.APIKey == "" {
		return fmt.Errorf("%w: the genai planner needs %s", types.ErrConfiguration, EnvGeminiAPIKey)
	}
	if _, err := time.ParseDuration(c.Watch.Debounce); err != nil {
		return fmt.Errorf("%w: watch.debounce: %v", types.ErrConfiguration, err)
	}
	seen := make(map[string]bool, len(c.Targets))
	for _, t := range c.Targets {
		if t.Name == "" {
			return fmt.Errorf("%w: every target needs a name", types.ErrConfiguration)
		}
		if seen[t.Name] {
			return fmt.Errorf("%w: target %s defined twice", types.ErrConfiguration, t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

// Root is the project root the configuration's relative paths resolve
// against.
func (c *Config) Root() string { return c.root }

// Path resolves a configured path against the project root.
func (c *Config) Path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.root, p)
}

// GetDebounce returns the watch debounce interval.
func (c *Config) GetDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return 300 * time.Millisecond
	}
	return d
}

// ResolveTargets expands the configured targets into pipeline targets,
// optionally restricted to the named ones. Source patterns are globs or
// directories relative to the target's dir.
func (c *Config) ResolveTargets(names ...string) ([]pipeline.Target, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	var out []pipeline.Target
	for _, tc := range c.Targets {
		if len(want) > 0 && !want[tc.Name] {
			continue
		}
		delete(want, tc.Name)
		t, err := c.resolveTarget(tc)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for n := range want {
			missing = append(missing, n)
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: unknown target(s) %v", types.ErrConfiguration, missing)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no targets configured in %s", types.ErrConfiguration, filepath.Join(c.root, DefaultFile))
	}
	return out, nil
}

func (c *Config) resolveTarget(tc TargetConfig) (pipeline.Target, error) {
	dir := c.Path(tc.Dir)

	args := append([]string{}, tc.Flags...)
	if tc.Std != "" {
		args = append(args, "-std="+tc.Std)
	}
	for _, inc := range tc.IncludeDirs {
		args = append(args, "-I"+inc)
	}
	for _, d := range tc.Defines {
		args = append(args, "-D"+d)
	}
	cc := types.ParseCompilerArgs(c.DefaultFlags, args)
	for i, inc := range cc.IncludePaths {
		if !filepath.IsAbs(inc) {
			cc.IncludePaths[i] = filepath.Join(dir, inc)
		}
	}

	sources, err := expandSources(dir, tc.Sources)
	if err != nil {
		return pipeline.Target{}, fmt.Errorf("target %s: %w", tc.Name, err)
	}
	var link []string
	for _, l := range tc.Link {
		if !filepath.IsAbs(l) {
			l = filepath.Join(dir, l)
		}
		link = append(link, l)
	}

	t := pipeline.Target{
		Name:       tc.Name,
		Dir:        dir,
		Sources:    sources,
		Config:     cc,
		LinkInputs: link,
		TestName:   tc.TestName,
		Filter:     tc.Filter,
	}
	if err := t.Validate(); err != nil {
		return pipeline.Target{}, err
	}
	return t, nil
}

// expandSources resolves source patterns to sorted, unique translation
// units. A directory pattern means every translation unit below it.
func expandSources(dir string, patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		p = filepath.Clean(p)
		if types.IsSource(p) && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, pat := range patterns {
		if !filepath.IsAbs(pat) {
			pat = filepath.Join(dir, pat)
		}
		if info, err := os.Stat(pat); err == nil && info.IsDir() {
			err := filepath.WalkDir(pat, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() {
					add(path)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
			}
			continue
		}
		matches, err := filepath.Glob(pat)
		if err != nil {
			return nil, fmt.Errorf("%w: bad source pattern %q: %v", types.ErrConfiguration, pat, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("%w: source pattern %q matches nothing", types.ErrConfiguration, pat)
		}
		for _, m := range matches {
			add(m)
		}
	}
	sort.Strings(out)
	return out, nil
}
