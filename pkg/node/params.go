package node

// Params is the merged parameter mapping handed to an executor.
type Params map[string]any

// Get returns a parameter value by key.
func (p Params) Get(key string) any {
	return p[key]
}

// Has checks if a parameter key exists.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// String returns a parameter value as string.
func (p Params) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// StringDefault returns a parameter value as string with default.
func (p Params) StringDefault(key, defaultVal string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return defaultVal
}

// Bool returns a parameter value as bool.
func (p Params) Bool(key string) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return false
}

// Int returns a parameter value as int.
func (p Params) Int(key string) int {
	return p.IntDefault(key, 0)
}

// IntDefault returns a parameter value as int with default.
func (p Params) IntDefault(key string, defaultVal int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case int32:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	}
	return defaultVal
}

// Float returns a parameter value as float64.
func (p Params) Float(key string) float64 {
	return p.FloatDefault(key, 0)
}

// FloatDefault returns a parameter value as float64 with default.
func (p Params) FloatDefault(key string, defaultVal float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	}
	return defaultVal
}

// Map returns a parameter value as map.
func (p Params) Map(key string) map[string]any {
	if v, ok := p[key].(map[string]any); ok {
		return v
	}
	return nil
}

// Slice returns a parameter value as slice.
func (p Params) Slice(key string) []any {
	if v, ok := p[key].([]any); ok {
		return v
	}
	return nil
}

// StringSlice returns a parameter value as string slice.
func (p Params) StringSlice(key string) []string {
	if v, ok := p[key].([]string); ok {
		return v
	}
	slice := p.Slice(key)
	if slice == nil {
		return nil
	}
	result := make([]string, 0, len(slice))
	for _, v := range slice {
		if s, ok := v.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
