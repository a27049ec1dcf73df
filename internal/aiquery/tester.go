package aiquery

import (
	"context"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoerrors"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/odata"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/queryexec"
)

// testRowCap bounds how many rows a validation test-execution pulls back,
// since it only needs to prove the query runs and sample the shape of the
// result, not fetch every matching item.
const testRowCap = 5

// ADOTester implements QueryTester against the live WIQL executor and
// OData client. WIQL candidates run through the same executor the
// `query-wiql` tool uses; OData candidates run as a custom-filter query
// through the Analytics client.
type ADOTester struct {
	Executor *queryexec.Executor
	OData    *odata.Client
	Project  string
}

// Test implements QueryTester.
func (t ADOTester) Test(ctx context.Context, grammar TargetGrammar, query string) (TestOutcome, error) {
	switch grammar {
	case GrammarOData:
		return t.testOData(ctx, query)
	default:
		return t.testWIQL(ctx, query)
	}
}

func (t ADOTester) testWIQL(ctx context.Context, query string) (TestOutcome, error) {
	res, err := t.Executor.RunWIQL(ctx, queryexec.WIQLRequest{
		Project:        t.Project,
		Query:          query,
		Top:            testRowCap,
		IncludeContext: true,
	})
	if err != nil {
		return TestOutcome{}, err
	}
	samples := make([]map[string]any, 0, len(res.Items))
	for _, p := range res.Items {
		samples = append(samples, map[string]any{
			"id": p.ID, "title": p.Title, "state": p.State, "type": p.Type,
		})
	}
	return TestOutcome{ResultCount: res.TotalCount, SampleResults: samples}, nil
}

func (t ADOTester) testOData(ctx context.Context, query string) (TestOutcome, error) {
	if t.OData == nil {
		return TestOutcome{}, adoerrors.New(adoerrors.KindContextUnavailable, "no OData client configured for odata query validation")
	}
	res, err := t.OData.Execute(ctx, odata.Descriptor{
		Type:         odata.QueryCustom,
		Project:      t.Project,
		CustomFilter: query,
		Top:          testRowCap,
	})
	if err != nil {
		return TestOutcome{}, err
	}
	return TestOutcome{ResultCount: len(res.Rows), SampleResults: res.Rows}, nil
}
