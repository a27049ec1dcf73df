// Package aiquery implements the AI Query Generator (spec §4.6): turning a
// natural-language request into a validated WIQL or OData query through an
// MCP sampling round trip with the host LLM, retrying with the execution
// error fed back on failure, capped at a small number of iterations.
package aiquery

import (
	"context"
	"regexp"
	"strings"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoerrors"
)

// DefaultMaxIterations and MaxIterationsCeiling bound the generation loop
// (spec §4.6: "default 3, max 5").
const (
	DefaultMaxIterations = 3
	MaxIterationsCeiling = 5
)

// TargetGrammar selects which query language the generator asks the model
// to produce.
type TargetGrammar string

const (
	GrammarWIQL  TargetGrammar = "wiql"
	GrammarOData TargetGrammar = "odata"
)

// ModelHint ranks a candidate model preference from most to least
// preferred, per spec §4.6 "hints ordered by preference: small/fast first,
// larger fallbacks last".
type ModelHint struct {
	Name string
}

// SamplingRequest is what the generator asks the MCP host to complete.
type SamplingRequest struct {
	SystemPrompt string
	UserPrompt   string
	ModelHints   []ModelHint
	MaxTokens    int
}

// Sampler performs one MCP sampling/createMessage round trip. Implementations
// forward to the connected MCP host; ctx cancellation must abort the
// request (spec §4.6 "Cancellation").
type Sampler interface {
	CreateMessage(ctx context.Context, req SamplingRequest) (string, error)
}

// QueryTester executes a candidate query against ADO with a tight row cap,
// reporting the error text the generator feeds back to the model on
// failure, or the validated result on success.
type QueryTester interface {
	Test(ctx context.Context, grammar TargetGrammar, query string) (TestOutcome, error)
}

// TestOutcome is what a successful test-execution reports.
type TestOutcome struct {
	ResultCount   int
	SampleResults []map[string]any
}

// Request describes one generate-query tool invocation.
type Request struct {
	Description   string
	Grammar       TargetGrammar
	Project       string
	TestQuery     bool
	MaxIterations int
}

// Result is what the generator returns (spec §4.6 step 4-5).
type Result struct {
	Query         string
	IsValidated   bool
	ResultCount   int
	SampleResults []map[string]any
	Iterations    int
	LastError     string
}

// Generator runs the sampling/test/retry loop.
type Generator struct {
	Sampler Sampler
	Tester  QueryTester
}

// New constructs a Generator.
func New(sampler Sampler, tester QueryTester) *Generator {
	return &Generator{Sampler: sampler, Tester: tester}
}

// Generate runs req through the loop described in spec §4.6.
func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	if g.Sampler == nil {
		return Result{}, adoerrors.New(adoerrors.KindSamplingUnavailable, "MCP host does not support sampling/createMessage")
	}
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	if maxIter > MaxIterationsCeiling {
		maxIter = MaxIterationsCeiling
	}

	systemPrompt := systemPromptFor(req.Grammar)
	userPrompt := req.Description
	var lastErr string
	var lastQuery string

	for iter := 1; iter <= maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return Result{Iterations: iter - 1, LastError: lastErr}, err
		}

		text, err := g.Sampler.CreateMessage(ctx, SamplingRequest{
			SystemPrompt: systemPrompt,
			UserPrompt:   userPrompt,
			ModelHints:   defaultModelHints(),
			MaxTokens:    512,
		})
		if err != nil {
			return Result{Iterations: iter, LastError: err.Error()}, err
		}
		lastQuery = stripCodeFence(text)

		if !req.TestQuery || g.Tester == nil {
			return Result{Query: lastQuery, IsValidated: false, Iterations: iter}, nil
		}

		outcome, testErr := g.Tester.Test(ctx, req.Grammar, lastQuery)
		if testErr == nil {
			return Result{
				Query: lastQuery, IsValidated: true, Iterations: iter,
				ResultCount: outcome.ResultCount, SampleResults: outcome.SampleResults,
			}, nil
		}

		lastErr = testErr.Error()
		userPrompt = correctionPrompt(req.Description, lastQuery, lastErr)
	}

	return Result{Query: lastQuery, IsValidated: false, Iterations: maxIter, LastError: lastErr}, nil
}

func defaultModelHints() []ModelHint {
	return []ModelHint{{Name: "claude-3-5-haiku"}, {Name: "claude-3-5-sonnet"}, {Name: "gpt-4o-mini"}}
}

func systemPromptFor(grammar TargetGrammar) string {
	switch grammar {
	case GrammarOData:
		return odataSystemPrompt
	default:
		return wiqlSystemPrompt
	}
}

func correctionPrompt(description, priorQuery, errText string) string {
	var b strings.Builder
	b.WriteString("The previous query failed to execute. Please correct it.\n\n")
	b.WriteString("Original request: ")
	b.WriteString(description)
	b.WriteString("\n\nPrevious query:\n")
	b.WriteString(priorQuery)
	b.WriteString("\n\nExecution error:\n")
	b.WriteString(errText)
	b.WriteString("\n\nReturn only the corrected query, no explanation.")
	return b.String()
}

var codeFenceRe = regexp.MustCompile("(?s)```(?:[a-zA-Z]*\n)?(.*?)```")

// stripCodeFence removes a single surrounding markdown code fence if present
// and trims whitespace, since models reliably wrap query text in one.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

const wiqlSystemPrompt = `You translate a natural-language request into a single Work Item Query ` +
	`Language (WIQL) statement against Azure DevOps. Use only System.* and ` +
	`Microsoft.VSTS.Common.* field reference names. Return exactly one SELECT ` +
	`statement, no markdown, no commentary.`

const odataSystemPrompt = `You translate a natural-language request into a single Azure DevOps ` +
	`Analytics OData query fragment (a $filter/$apply expression), operating ` +
	`over the WorkItems entity set. Return exactly one expression, no ` +
	`markdown, no commentary.`
