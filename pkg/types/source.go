package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// CompilerConfig is the resolved compiler configuration of a source unit.
type CompilerConfig struct {
	IncludePaths []string `json:"include_paths,omitempty"`
	Defines      []string `json:"defines,omitempty"`
	Standard     string   `json:"standard"`
	Extra        []string `json:"extra,omitempty"`
}

// ParseCompilerArgs resolves a flag list into a CompilerConfig. Default flags
// come first so explicit arguments override them, e.g. a later -std wins.
func ParseCompilerArgs(defaults, args []string) CompilerConfig {
	var cfg CompilerConfig
	all := append(append([]string{}, defaults...), args...)
	for i := 0; i < len(all); i++ {
		arg := all[i]
		next := func() (string, bool) {
			if i+1 < len(all) {
				i++
				return all[i], true
			}
			return "", false
		}
		switch {
		case arg == "-I" || arg == "-isystem" || arg == "-iquote":
			if v, ok := next(); ok {
				cfg.IncludePaths = append(cfg.IncludePaths, v)
			}
		case strings.HasPrefix(arg, "-isystem"):
			cfg.IncludePaths = append(cfg.IncludePaths, strings.TrimPrefix(arg, "-isystem"))
		case strings.HasPrefix(arg, "-iquote"):
			cfg.IncludePaths = append(cfg.IncludePaths, strings.TrimPrefix(arg, "-iquote"))
		case strings.HasPrefix(arg, "-I"):
			cfg.IncludePaths = append(cfg.IncludePaths, strings.TrimPrefix(arg, "-I"))
		case arg == "-D":
			if v, ok := next(); ok {
				cfg.Defines = append(cfg.Defines, v)
			}
		case strings.HasPrefix(arg, "-D"):
			cfg.Defines = append(cfg.Defines, strings.TrimPrefix(arg, "-D"))
		case strings.HasPrefix(arg, "-std="):
			cfg.Standard = strings.TrimPrefix(arg, "-std=")
		case strings.TrimSpace(arg) == "":
		default:
			cfg.Extra = append(cfg.Extra, arg)
		}
	}
	return cfg
}

// Validate reports a ConfigurationError when required settings are absent.
func (c *CompilerConfig) Validate() error {
	if strings.TrimSpace(c.Standard) == "" {
		return fmt.Errorf("%w: language standard (-std=) is not set", ErrConfiguration)
	}
	for _, p := range c.IncludePaths {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: empty include path", ErrConfiguration)
		}
	}
	return nil
}

// DefineSet returns the macro names defined by the configuration.
func (c *CompilerConfig) DefineSet() map[string]string {
	out := make(map[string]string, len(c.Defines))
	for _, d := range c.Defines {
		name, value, _ := strings.Cut(d, "=")
		out[name] = value
	}
	return out
}

// Args renders the configuration back into compiler flags.
func (c *CompilerConfig) Args() []string {
	args := []string{"-std=" + c.Standard}
	for _, p := range c.IncludePaths {
		args = append(args, "-I"+p)
	}
	for _, d := range c.Defines {
		args = append(args, "-D"+d)
	}
	return append(args, c.Extra...)
}

// Hash is a stable digest of the configuration. Include paths and defines are
// order-insensitive; extra flags keep their order.
func (c *CompilerConfig) Hash() string {
	inc := append([]string{}, c.IncludePaths...)
	def := append([]string{}, c.Defines...)
	sort.Strings(inc)
	sort.Strings(def)

	h := sha256.New()
	writeField := func(s string) {
		fmt.Fprintf(h, "%d:%s", len(s), s)
	}
	writeField(c.Standard)
	for _, group := range [][]string{inc, def, c.Extra} {
		fmt.Fprintf(h, "[%d]", len(group))
		for _, s := range group {
			writeField(s)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SourceUnit is one source file plus the configuration it is compiled with.
type SourceUnit struct {
	Path   string         `json:"path"`
	Config CompilerConfig `json:"config"`
}

// Identity is the cache identity of the unit: path plus configuration hash.
func (u *SourceUnit) Identity() string {
	return filepath.Clean(u.Path) + "@" + u.Config.Hash()[:16]
}

var headerExtensions = map[string]bool{
	".h": true, ".hh": true, ".hpp": true, ".hxx": true, ".h++": true, ".inl": true, ".ipp": true,
}

var sourceExtensions = map[string]bool{
	".c": true, ".cc": true, ".cpp": true, ".cxx": true, ".c++": true,
}

// IsHeader reports whether path names a header file.
func IsHeader(path string) bool {
	return headerExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsSource reports whether path names a translation unit the indexer runs on.
func IsSource(path string) bool {
	return sourceExtensions[strings.ToLower(filepath.Ext(path))]
}
