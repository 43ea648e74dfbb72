package options

import (
	"math"
	"slices"
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"
)

// Flags renders an object of flag names to command line arguments in key order.
// true renders the bare flag; false and null omit it; lists repeat the flag;
// nested objects are skipped.
func Flags(s *structpb.Struct) []string {
	keys := sortedKeys(s)
	args := make([]string, 0, len(keys)*2) //nolint:mnd // Flag plus value.

	for _, key := range keys {
		args = appendFlag(args, key, s.GetFields()[key])
	}

	return args
}

// Env renders an object of variable names to KEY=value pairs in key order.
// Null values and nested objects are skipped.
func Env(s *structpb.Struct) []string {
	keys := sortedKeys(s)
	env := make([]string, 0, len(keys))

	for _, key := range keys {
		if text, ok := scalarText(s.GetFields()[key]); ok {
			env = append(env, key+"="+text)
		}
	}

	return env
}

// appendFlag appends one flag with its value.
func appendFlag(args []string, name string, value *structpb.Value) []string {
	switch kind := value.GetKind().(type) {
	case *structpb.Value_BoolValue:
		if kind.BoolValue {
			args = append(args, name)
		}
	case *structpb.Value_ListValue:
		for _, item := range kind.ListValue.GetValues() {
			args = appendFlag(args, name, item)
		}
	default:
		if text, ok := scalarText(value); ok {
			args = append(args, name, text)
		}
	}

	return args
}

// scalarText renders strings, numbers and booleans.
func scalarText(value *structpb.Value) (string, bool) {
	switch kind := value.GetKind().(type) {
	case *structpb.Value_StringValue:
		return kind.StringValue, true
	case *structpb.Value_NumberValue:
		n := kind.NumberValue
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return strconv.FormatInt(int64(n), 10), true
		}

		return strconv.FormatFloat(n, 'f', -1, 64), true
	case *structpb.Value_BoolValue:
		return strconv.FormatBool(kind.BoolValue), true
	default:
		return "", false
	}
}

// sortedKeys returns the field names of s in ascending order.
func sortedKeys(s *structpb.Struct) []string {
	keys := make([]string, 0, len(s.GetFields()))
	for key := range s.GetFields() {
		keys = append(keys, key)
	}

	slices.Sort(keys)

	return keys
}
