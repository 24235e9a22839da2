// Package schema validates flow documents and the device catalog against
// embedded CUE schemas before the codecs decode them. Uses the CUE SDK's Go
// API directly, not a CLI subprocess.
package schema

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
)

//go:embed flow.cue
var flowSchema string

//go:embed devices.cue
var devicesSchema string

// Validation error codes (E200-E299).
const (
	ErrCodeParse    = "E200" // document is not valid JSON
	ErrCodeSchema   = "E201" // document violates the flow schema
	ErrCodeInternal = "E202" // schema itself failed to compile
)

// ValidationError is one schema violation.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// definition is one embedded schema definition, compiled on first use.
// Documents must be built in the same context as the schema or CUE cannot
// unify them, so the context is cached alongside the compiled value.
type definition struct {
	src, file, path string

	once sync.Once
	ctx  *cue.Context
	val  cue.Value
	err  error
}

var (
	flowDef    = &definition{src: flowSchema, file: "flow.cue", path: "#Flow"}
	catalogDef = &definition{src: devicesSchema, file: "devices.cue", path: "#Catalog"}
)

func (d *definition) compiled() (*cue.Context, cue.Value, error) {
	d.once.Do(func() {
		d.ctx = cuecontext.New()
		v := d.ctx.CompileString(d.src, cue.Filename(d.file))
		if err := v.Err(); err != nil {
			d.err = err
			return
		}
		d.val = v.LookupPath(cue.ParsePath(d.path))
		if err := d.val.Err(); err != nil {
			d.err = err
		}
	})
	return d.ctx, d.val, d.err
}

// ValidateFlow checks one JSON flow document against the schema. Returns
// all violations found, not just the first.
func ValidateFlow(data []byte) []ValidationError {
	return validate(flowDef, "flow.json", data)
}

// ValidateCatalog checks a devices.json document against the schema.
func ValidateCatalog(data []byte) []ValidationError {
	return validate(catalogDef, "devices.json", data)
}

func validate(d *definition, filename string, data []byte) []ValidationError {
	ctx, def, err := d.compiled()
	if err != nil {
		return []ValidationError{{Code: ErrCodeInternal, Message: err.Error()}}
	}

	expr, err := cuejson.Extract(filename, data)
	if err != nil {
		return []ValidationError{{Code: ErrCodeParse, Message: err.Error()}}
	}
	doc := ctx.BuildExpr(expr)
	if err := doc.Err(); err != nil {
		return []ValidationError{{Code: ErrCodeParse, Message: err.Error()}}
	}

	unified := def.Unify(doc)
	if err := unified.Validate(cue.Concrete(true), cue.All()); err != nil {
		return convertCUEErrors(err)
	}
	return nil
}

// convertCUEErrors flattens a CUE error list into ValidationErrors with
// path and position information where available.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Code:    ErrCodeSchema,
			Message: e.Error(),
		}
		if path := e.Path(); len(path) > 0 {
			ve.Field = pathString(path)
		}
		if pos := e.Position(); pos.IsValid() {
			ve.Line = pos.Line()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Code: ErrCodeSchema, Message: err.Error()})
	}
	return out
}

func pathString(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += "."
		}
		out += p
	}
	return out
}
