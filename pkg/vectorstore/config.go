package vectorstore

import "fmt"

// mergeConfig layers space-supplied values over provider defaults.
// Space values win; neither input map is mutated.
func mergeConfig(defaults, overrides Config) Config {
	merged := make(Config, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// Space configuration arrives as decoded JSON, so numbers may be float64 and
// every value needs a tolerant read. These helpers report a typed violation
// string instead of an error so validators can collect all of them at once.

func stringField(cfg Config, key string) (string, string) {
	v, ok := cfg[key]
	if !ok {
		return "", ""
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Sprintf("%s: expected string, got %T", key, v)
	}
	return s, ""
}

func intField(cfg Config, key string) (int, string) {
	v, ok := cfg[key]
	if !ok {
		return 0, ""
	}
	switch n := v.(type) {
	case int:
		return n, ""
	case int64:
		return int(n), ""
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Sprintf("%s: expected integer, got %v", key, n)
		}
		return int(n), ""
	default:
		return 0, fmt.Sprintf("%s: expected integer, got %T", key, v)
	}
}

func boolField(cfg Config, key string) (bool, string) {
	v, ok := cfg[key]
	if !ok {
		return false, ""
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Sprintf("%s: expected bool, got %T", key, v)
	}
	return b, ""
}
