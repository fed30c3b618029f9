package output

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/itchyny/gojq"
)

// CompileFilter parses and compiles a jq program. Callers validate --jq early
// so a typo fails before any request is made.
func CompileFilter(program string) (*gojq.Code, error) {
	query, err := gojq.Parse(program)
	if err != nil {
		return nil, ErrUsageHint(fmt.Sprintf("Invalid --jq filter: %v", err), "See https://jqlang.github.io/jq/manual/")
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, ErrUsage(fmt.Sprintf("Invalid --jq filter: %v", err))
	}
	return code, nil
}

// writeFiltered runs the jq program over the envelope and writes each result.
// String results are written raw, everything else as indented JSON.
func (w *Writer) writeFiltered(v any) error {
	code, err := CompileFilter(w.opts.JQ)
	if err != nil {
		return err
	}

	input, err := toJQInput(v)
	if err != nil {
		return err
	}

	iter := code.Run(input)
	for {
		result, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := result.(error); isErr {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				return nil
			}
			return ErrUsage(fmt.Sprintf("--jq: %v", err))
		}
		if s, isString := result.(string); isString {
			if _, err := fmt.Fprintln(w.opts.Writer, s); err != nil {
				return err
			}
			continue
		}
		if err := w.writeJSON(result); err != nil {
			return err
		}
	}
}

// toJQInput converts a value to the plain map/slice form gojq operates on.
func toJQInput(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
