package synth

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"github.com/dshills/scenariogen/pkg/types"
)

var sourceTemplate = template.Must(template.New("scenarios").Parse(`// Code generated by scenariogen. DO NOT EDIT.
// Target: {{.Target}}
{{range .Includes}}
#include {{.}}{{end}}

namespace {

int failures = 0;

void expect(bool ok, const char* scenario, const char* clause)
{
    if (!ok) {
        ++failures;
        std::cerr << "FAIL " << scenario << ": " << clause << '\n';
    }
}

} // namespace
{{range .Functions}}
// {{.Label}}
{{- range .Comment}}
//   {{.}}{{end}}
void {{.Name}}()
{
{{- range .Body}}{{if gt .Repeat 1}}
    for (int i = 0; i < {{.Repeat}}; ++i) {
        {{.Code}}
    }{{else}}
    {{.Code}}{{end}}{{end}}
}
{{end}}
int main()
{
{{- range .Functions}}
    {{.Name}}();{{end}}
    if (failures != 0) {
        std::cerr << failures << " assertion(s) failed\n";
        return EXIT_FAILURE;
    }
    std::cout << "{{len .Functions}} scenario(s) passed\n";
    return EXIT_SUCCESS;
}
`))

type renderFunction struct {
	Name    string
	Label   string
	Comment []string
	Body    []Statement
}

type renderUnit struct {
	Target    string
	Includes  []string
	Functions []renderFunction
}

func render(unit renderUnit) (string, error) {
	var buf bytes.Buffer
	if err := sourceTemplate.Execute(&buf, unit); err != nil {
		return "", fmt.Errorf("failed to render scenarios: %w", err)
	}
	return buf.String(), nil
}

var nonIdent = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// scenarioFunctionNames assigns every scenario of merged its test function name:
// scenario_<entity>_<n>. Names that would collide after sanitizing get a
// hash of the qualified name appended, computed over the whole index so
// filtering never renames a function.
func scenarioFunctionNames(merged *types.MergedIndex) map[string][]string {
	base := make(map[string]string)
	count := make(map[string]int)
	for i := range merged.Entities {
		e := &merged.Entities[i]
		if len(e.Scenarios) == 0 {
			continue
		}
		b := nonIdent.ReplaceAllString(strings.ReplaceAll(e.QualifiedName, "::", "_"), "_")
		base[e.QualifiedName] = b
		count[b]++
	}

	out := make(map[string][]string, len(base))
	for i := range merged.Entities {
		e := &merged.Entities[i]
		b, ok := base[e.QualifiedName]
		if !ok {
			continue
		}
		if count[b] > 1 {
			sum := sha256.Sum256([]byte(e.QualifiedName))
			b += "_" + hex.EncodeToString(sum[:4])
		}
		names := make([]string, len(e.Scenarios))
		for n := range e.Scenarios {
			names[n] = fmt.Sprintf("scenario_%s_%d", b, n)
		}
		out[e.QualifiedName] = names
	}
	return out
}

// includeLine spells the include directive argument for a header: angle
// brackets relative to the first include directory containing it,
// otherwise quotes relative to outDir.
func includeLine(file string, includeDirs []string, outDir string) (string, bool) {
	if !types.IsHeader(file) {
		return "", false
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		abs = file
	}
	for _, dir := range includeDirs {
		d, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(d, abs)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "<" + filepath.ToSlash(rel) + ">", true
		}
	}
	if outDir != "" {
		if d, err := filepath.Abs(outDir); err == nil {
			if rel, err := filepath.Rel(d, abs); err == nil {
				return `"` + filepath.ToSlash(rel) + `"`, true
			}
		}
	}
	return `"` + filepath.ToSlash(abs) + `"`, true
}

func sortedIncludes(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for inc := range set {
		out = append(out, inc)
	}
	sort.Strings(out)
	return out
}
