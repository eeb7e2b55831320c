package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/scenariogen/pkg/types"
)

const sampleConfig = `
parallelism: 8
default_flags: ["-std=c++17", "-Wall"]
embedding:
  provider: openai
  base_url: http://localhost:8000/v1
synthesis:
  planner: heuristic
  verbose: true
watch:
  debounce: 1s
targets:
  - name: box
    dir: project
    sources: ["src/lib/*.cpp"]
    include_dirs: [src]
    defines: [NDEBUG]
    std: c++20
    test_name: box_tests
  - name: all
    dir: project
    sources: [src]
    link: [src/lib/box.cpp]
    filter: BoxOfFruits
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range []string{"project/src/lib/box.cpp", "project/src/lib/box.hpp", "project/src/main.cc"} {
		p := filepath.Join(root, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("// x\n"), 0o644))
	}
	path := filepath.Join(root, DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	for _, k := range []string{EnvCacheDir, EnvParallelism, EnvEmbeddingProvider, EnvPlanner, EnvCompiler, EnvGeminiAPIKey} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, DefaultFile))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().CacheDir, cfg.CacheDir)
	assert.Equal(t, "heuristic", cfg.Synthesis.Planner)
	assert.Equal(t, dir, cfg.Root())
	assert.Equal(t, filepath.Join(dir, ".scenariogen", "state.db"), cfg.Path(cfg.StateDB))
	assert.NoError(t, cfg.Validate())

	_, err = cfg.ResolveTargets()
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestLoadOverlaysFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8, cfg.Parallelism)
	assert.Equal(t, "c++", cfg.Compiler, "unset keys keep their defaults")
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, 10000, cfg.Embedding.CacheSize)
	assert.True(t, cfg.Synthesis.Verbose)
	assert.Equal(t, time.Second, cfg.GetDebounce())
	require.Len(t, cfg.Targets, 2)
}

func TestResolveTargets(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)
	project := filepath.Join(cfg.Root(), "project")

	targets, err := cfg.ResolveTargets()
	require.NoError(t, err)
	require.Len(t, targets, 2)

	box := targets[0]
	assert.Equal(t, "box", box.Name)
	assert.Equal(t, project, box.Dir)
	assert.Equal(t, []string{filepath.Join(project, "src", "lib", "box.cpp")}, box.Sources)
	assert.Equal(t, "c++20", box.Config.Standard, "the target's std overrides the default flag")
	assert.Equal(t, []string{filepath.Join(project, "src")}, box.Config.IncludePaths)
	assert.Equal(t, []string{"NDEBUG"}, box.Config.Defines)
	assert.Equal(t, []string{"-Wall"}, box.Config.Extra)
	assert.Equal(t, "box_tests", box.RegistrationName())

	all := targets[1]
	assert.Equal(t, []string{
		filepath.Join(project, "src", "lib", "box.cpp"),
		filepath.Join(project, "src", "main.cc"),
	}, all.Sources, "directories expand to their translation units")
	assert.Equal(t, "c++17", all.Config.Standard)
	assert.Equal(t, []string{filepath.Join(project, "src", "lib", "box.cpp")}, all.LinkInputs)
	assert.Equal(t, "BoxOfFruits", all.Filter)
	assert.Equal(t, "all_scenarios", all.RegistrationName())

	only, err := cfg.ResolveTargets("all")
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "all", only[0].Name)

	_, err = cfg.ResolveTargets("nope")
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestResolveTargetsErrors(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name    string
		content string
	}{
		{"no standard", "targets:\n  - name: a\n    dir: project\n    sources: [src/main.cc]\n"},
		{"pattern matches nothing", "targets:\n  - name: a\n    dir: project\n    std: c++17\n    sources: [src/*.cxx]\n"},
		{"no sources", "targets:\n  - name: a\n    dir: project\n    std: c++17\n"},
		{"header as source", "targets:\n  - name: a\n    dir: project\n    std: c++17\n    sources: [src/lib/box.hpp]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.content))
			require.NoError(t, err)
			_, err = cfg.ResolveTargets()
			assert.ErrorIs(t, err, types.ErrConfiguration)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvCacheDir, "/tmp/sg-cache")
	t.Setenv(EnvParallelism, "2")
	t.Setenv(EnvEmbeddingProvider, "GenAI")
	t.Setenv(EnvPlanner, "genai")
	t.Setenv(EnvCompiler, "clang++")
	t.Setenv(EnvGeminiAPIKey, "k")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/sg-cache", cfg.CacheDir)
	assert.Equal(t, "/tmp/sg-cache", cfg.Path(cfg.CacheDir))
	assert.Equal(t, 2, cfg.Parallelism)
	assert.Equal(t, "genai", cfg.Embedding.Provider)
	assert.Equal(t, "genai", cfg.Synthesis.Planner)
	assert.Equal(t, "clang++", cfg.Compiler)
	assert.NoError(t, cfg.Validate())

	t.Setenv(EnvParallelism, "many")
	_, err = Load(writeConfig(t, sampleConfig))
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"parallelism", func(c *Config) { c.Parallelism = 0 }},
		{"planner", func(c *Config) { c.Synthesis.Planner = "oracle" }},
		{"genai without key", func(c *Config) { c.Synthesis.Planner = "genai" }},
		{"debounce", func(c *Config) { c.Watch.Debounce = "soon" }},
		{"duplicate target", func(c *Config) { c.Targets = []TargetConfig{{Name: "a"}, {Name: "a"}} }},
		{"unnamed target", func(c *Config) { c.Targets = []TargetConfig{{}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), types.ErrConfiguration)
		})
	}
}

func TestMalformedFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, "targets: [unclosed"))
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LoadDotEnv(dir), "a missing .env is fine")

	t.Setenv("SCENARIOGEN_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("SCENARIOGEN_TEST_DOTENV"))
	t.Setenv("SCENARIOGEN_TEST_PRESET", "from-env")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("SCENARIOGEN_TEST_DOTENV=from-file\nSCENARIOGEN_TEST_PRESET=from-file\n"), 0o644))

	require.NoError(t, LoadDotEnv(dir))
	t.Cleanup(func() { _ = os.Unsetenv("SCENARIOGEN_TEST_DOTENV") })
	assert.Equal(t, "from-file", os.Getenv("SCENARIOGEN_TEST_DOTENV"))
	assert.Equal(t, "from-env", os.Getenv("SCENARIOGEN_TEST_PRESET"))
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", DefaultFile)
	cfg := DefaultConfig()
	cfg.Targets = []TargetConfig{{Name: "box", Dir: ".", Sources: []string{"src"}, Std: "c++20"}}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Targets, loaded.Targets)
	assert.Equal(t, cfg.Synthesis.Planner, loaded.Synthesis.Planner)
}
