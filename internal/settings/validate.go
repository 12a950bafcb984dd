package settings

import (
	"fmt"
	"slices"
	"strings"
)

// Validate checks v against the enumerations and against the kind of the
// default stored at key, if any. Keys without a default accept any value.
func Validate(defaults Value, key string, v Value) error {
	if key == "" {
		return &ValidationError{Key: key, Reason: "key is required"}
	}
	for _, seg := range SplitKey(key) {
		if seg == "" {
			return &ValidationError{Key: key, Reason: "empty path segment"}
		}
	}

	if allowed, ok := Enumerations[key]; ok {
		s, isString := v.AsString()
		if !isString {
			return &ValidationError{Key: key, Reason: fmt.Sprintf("want a string, got %s", v.Kind())}
		}
		if !slices.Contains(allowed, s) {
			return &ValidationError{
				Key:    key,
				Reason: fmt.Sprintf("%q is not one of %s", s, strings.Join(allowed, ", ")),
			}
		}
		return nil
	}

	def, ok := Lookup(defaults, SplitKey(key))
	if ok && !def.IsNull() && !v.IsNull() && def.Kind() != v.Kind() {
		return &ValidationError{Key: key, Reason: fmt.Sprintf("want a %s, got %s", def.Kind(), v.Kind())}
	}

	if !ok || !def.IsMapping() {
		return nil
	}
	// Fields written over a default mapping are checked as if set one by one.
	for _, k := range v.Keys() {
		if k == "" || strings.Contains(k, ".") {
			continue
		}
		field, _ := v.Field(k)
		if err := Validate(defaults, key+"."+k, field); err != nil {
			return err
		}
	}
	return nil
}
