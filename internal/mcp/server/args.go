package server

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/kubilitics/kubilitics-guardrail/internal/mcp/tools/execution"
)

// Argument helpers for JSON-decoded tool arguments. Numbers arrive as float64
// (or json.Number with UseNumber); numeric strings are rejected.

func stringArg(args map[string]interface{}, key, def string, required bool) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("%w: %s is required", execution.ErrInvalidInput, key)
		}
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", execution.ErrInvalidInput, key, v)
	}
	return s, nil
}

func intArg(args map[string]interface{}, key string, def int, required bool) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		if required {
			return 0, fmt.Errorf("%w: %s is required", execution.ErrInvalidInput, key)
		}
		return def, nil
	}

	switch n := v.(type) {
	case int:
		if n > math.MaxInt32 || n < math.MinInt32 {
			return 0, fmt.Errorf("%w: %s is out of range, got %d", execution.ErrInvalidInput, key, n)
		}
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		if n > math.MaxInt32 || n < math.MinInt32 {
			return 0, fmt.Errorf("%w: %s is out of range, got %d", execution.ErrInvalidInput, key, n)
		}
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || n > math.MaxInt32 || n < math.MinInt32 {
			return 0, fmt.Errorf("%w: %s must be an integer, got %v", execution.ErrInvalidInput, key, n)
		}
		return int(n), nil
	case json.Number:
		i, err := strconv.ParseInt(n.String(), 10, 32)
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer, got %s", execution.ErrInvalidInput, key, n)
		}
		return int(i), nil
	default:
		return 0, fmt.Errorf("%w: %s must be an integer, got %T", execution.ErrInvalidInput, key, v)
	}
}

func boolArg(args map[string]interface{}, key string, def bool) (bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("%w: %s must be a boolean, got %q", execution.ErrInvalidInput, key, b)
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("%w: %s must be a boolean, got %T", execution.ErrInvalidInput, key, v)
	}
}
