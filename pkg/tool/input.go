package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ErrArguments marks a mismatch between the supplied input and what the tool accepts.
var ErrArguments = errors.New("incorrect input arguments")

// Input is the action input resolved once at dispatch time: either a decoded
// mapping of named arguments or the raw string the model produced.
type Input struct {
	raw        string
	args       map[string]any
	structured bool
}

// RawInput wraps an unstructured action input.
func RawInput(raw string) Input {
	return Input{raw: raw}
}

// StructuredInput wraps a decoded mapping of named arguments.
func StructuredInput(args map[string]any) Input {
	if args == nil {
		args = map[string]any{}
	}
	return Input{args: args, structured: true}
}

// IsStructured reports whether the input carries named arguments.
func (in Input) IsStructured() bool { return in.structured }

// Raw returns the raw string. It is empty for structured input.
func (in Input) Raw() string { return in.raw }

// Args returns the named arguments. It is nil for raw input.
func (in Input) Args() map[string]any {
	if !in.structured {
		return nil
	}
	return in.args
}

// String renders the input for logging and for tools that only accept text.
func (in Input) String() string {
	if !in.structured {
		return in.raw
	}
	encoded, err := json.Marshal(in.args)
	if err != nil {
		return fmt.Sprintf("%v", in.args)
	}
	return string(encoded)
}

// Text returns the named argument key as a string when the input is
// structured, or the trimmed raw input otherwise.
func (in Input) Text(key string) string {
	if !in.structured {
		return strings.TrimSpace(in.raw)
	}
	value, ok := in.args[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

// Bind decodes the input into dst, which must be a pointer to a struct with
// mapstructure tags. Raw input is assigned to the field named by primary.
// Unknown argument names are rejected and reported as ErrArguments.
func Bind(in Input, dst any, primary string) error {
	source := in.args
	if !in.structured {
		if primary == "" {
			return fmt.Errorf("%w: tool expects a JSON object", ErrArguments)
		}
		source = map[string]any{primary: in.raw}
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(source); err != nil {
		return fmt.Errorf("%w: %v", ErrArguments, err)
	}
	return nil
}
