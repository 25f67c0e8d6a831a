package service

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"

	"github.com/dshills/codegraph/pkg/types"
)

// Arguments arrive decoded from JSON, so numbers may be float64 and flags
// may be strings. Every helper coerces with cast and reports bad values as
// invalid requests.

func stringArg(args map[string]any, key string, required bool) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("%w: %s is required", types.ErrInvalidRequest, key)
		}
		return "", nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("%w: %s must be a string", types.ErrInvalidRequest, key)
	}
	s = strings.TrimSpace(s)
	if required && s == "" {
		return "", fmt.Errorf("%w: %s cannot be empty", types.ErrInvalidRequest, key)
	}
	return s, nil
}

func intArg(args map[string]any, key string, defaultValue, minValue, maxValue int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return defaultValue, nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", types.ErrInvalidRequest, key)
	}
	if n < minValue || n > maxValue {
		return 0, fmt.Errorf("%w: %s must be between %d and %d", types.ErrInvalidRequest, key, minValue, maxValue)
	}
	return n, nil
}

func int64Arg(args map[string]any, key string) (int64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("%w: %s is required", types.ErrInvalidRequest, key)
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", types.ErrInvalidRequest, key)
	}
	return n, nil
}

func boolArg(args map[string]any, key string, defaultValue bool) (bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return defaultValue, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", types.ErrInvalidRequest, key)
	}
	return b, nil
}

// projectPathArg reads the required absolute project_path
func projectPathArg(args map[string]any) (string, error) {
	path, err := stringArg(args, "project_path", true)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: project_path must be absolute, got %q", types.ErrInvalidRequest, path)
	}
	return filepath.Clean(path), nil
}
