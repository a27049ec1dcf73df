// Package envelope defines the uniform Tool Execution Result shape returned
// by every MCP tool handler (spec §3.5, §6.4). Handlers never throw across
// the tool boundary; they return an Envelope (or an error the Dispatcher
// converts into one) so the wire shape is always
// {success, data, errors, warnings, metadata}.
package envelope

import "github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoerrors"

// Envelope is the JSON-serializable result every tool call returns.
type Envelope struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data"`
	Errors   []string       `json:"errors"`
	Warnings []string       `json:"warnings"`
	Metadata map[string]any `json:"metadata"`
}

// Ok builds a successful envelope for the named tool.
func Ok(source string, data any) Envelope {
	return Envelope{
		Success:  true,
		Data:     data,
		Errors:   []string{},
		Warnings: []string{},
		Metadata: map[string]any{"source": source},
	}
}

// OkWithWarnings builds a successful envelope carrying warnings (e.g. the
// note that a generated query was returned unvalidated).
func OkWithWarnings(source string, data any, warnings ...string) Envelope {
	e := Ok(source, data)
	e.Warnings = append(e.Warnings, warnings...)
	return e
}

// Fail builds a failed envelope from an arbitrary error. If err is an
// *adoerrors.Error, its kind and details are folded into metadata so callers
// can programmatically branch on recovery strategy (§7).
func Fail(source string, err error) Envelope {
	e := Envelope{
		Success:  false,
		Data:     nil,
		Errors:   []string{err.Error()},
		Warnings: []string{},
		Metadata: map[string]any{"source": source, "errorKind": string(adoerrors.KindOf(err))},
	}
	if ae, ok := adoerrors.As(err); ok && len(ae.Details) > 0 {
		e.Metadata["errorDetails"] = ae.Details
	}
	return e
}

// FailWithErrors builds a failed envelope from a list of error strings
// directly, for cases (such as validation) where multiple independent
// messages must ride together.
func FailWithErrors(source string, kind adoerrors.Kind, errs []string) Envelope {
	return Envelope{
		Success:  false,
		Data:     nil,
		Errors:   errs,
		Warnings: []string{},
		Metadata: map[string]any{"source": source, "errorKind": string(kind)},
	}
}
