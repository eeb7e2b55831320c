package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// PlannerGenAI is the name of the Gemini-backed planner.
const PlannerGenAI = "genai"

// DefaultGenAIModel is the model used when none is configured.
const DefaultGenAIModel = "gemini-2.5-flash"

// ErrNoPlan is returned when the model response carries no text.
var ErrNoPlan = errors.New("model returned no plan")

// contentGenerator is the part of the genai client the planner uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GenAIPlanner asks a Gemini model for a JSON plan. Its output goes through
// the same validation as any other plan.
type GenAIPlanner struct {
	models contentGenerator
	model  string
}

// NewGenAIPlanner creates a planner backed by the Gemini API.
func NewGenAIPlanner(ctx context.Context, apiKey, model string) (*GenAIPlanner, error) {
	if apiKey == "" {
		return nil, errors.New("GenAI planner requires an API key")
	}
	if model == "" {
		model = DefaultGenAIModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIPlanner{models: client.Models, model: model}, nil
}

func (g *GenAIPlanner) Name() string { return PlannerGenAI + "/" + g.model }

func (g *GenAIPlanner) Plan(ctx context.Context, req PlanRequest) (*Plan, error) {
	prompt, err := planPrompt(req)
	if err != nil {
		return nil, err
	}
	resp, err := g.models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
	)
	if err != nil {
		return nil, fmt.Errorf("GenAI plan request failed: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return nil, ErrNoPlan
	}
	plan, err := ParsePlan([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	return plan, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

type catalogType struct {
	Name         string   `json:"name"`
	Doc          string   `json:"doc,omitempty"`
	Constructors []string `json:"constructors"`
	Methods      []string `json:"methods,omitempty"`
}

type catalogView struct {
	Types     []catalogType `json:"types"`
	Functions []string      `json:"functions,omitempty"`
}

func planPrompt(req PlanRequest) (string, error) {
	var view catalogView
	for _, t := range req.Catalog.Types() {
		ct := catalogType{Name: t.QualifiedName, Doc: strings.TrimSpace(t.Doc)}
		for _, op := range req.Catalog.Constructors(t) {
			ct.Constructors = append(ct.Constructors, op.Signature())
		}
		for _, op := range t.Methods() {
			ct.Methods = append(ct.Methods, op.Signature())
		}
		view.Types = append(view.Types, ct)
	}
	for _, name := range sortedKeys(functionNames(req.Catalog)) {
		fn, _ := req.Catalog.ResolveFunction(name, "")
		for _, op := range fn.Operations {
			op.Name = fn.QualifiedName
			view.Functions = append(view.Functions, op.Signature())
		}
	}
	catalog, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode catalog: %w", err)
	}

	var b strings.Builder
	b.WriteString(`You translate a Given/When/Then scenario into a test plan for C++ code.
Answer with one JSON object and nothing else:
{"subject": "<qualified type>", "steps": [<step>, ...]}
Steps:
  {"op": "create", "id": "<variable>", "type": "<qualified type>", "args": [<arg>...]}
  {"op": "call", "target": "<variable>", "method": "<method>", "args": [<arg>...], "result": "<variable, optional>", "repeat": <count, optional>}
  {"op": "assert", "compare": {"op": "==|!=|<|<=|>|>=", "left": {"var": "<variable>"}, "right": <literal arg>}, "clause": "<the Then text>"}
Args are exactly one of {"str": "..."}, {"int": 1}, {"float": 1.5}, {"bool": true}, {"var": "<variable>"},
{"construct": {"type": "<qualified type>", "args": [<arg>...]}}.
Use only the types, constructors and methods listed in the catalog. Assert on values returned by
calls bound with "result". Use "subject" for the object under test and do not name variables
"expect", "failures", "main" or "i".

Catalog:
`)
	b.Write(catalog)
	fmt.Fprintf(&b, "\n\nThe scenario is documented on %s.\n", req.Entity.QualifiedName)
	b.WriteString(req.Scenario.String())
	b.WriteByte('\n')
	return b.String(), nil
}

func functionNames(cat *Catalog) map[string]bool {
	out := make(map[string]bool, len(cat.functions))
	for name := range cat.functions {
		out[name] = true
	}
	return out
}
