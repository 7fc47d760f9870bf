package audit

import "strings"

// Mask replaces the value of every denylisted key.
const Mask = "***"

var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
	"secret":        {},
}

// Redact returns a copy of md with sensitive keys masked at any depth,
// including inside arrays. Key matching ignores case.
func Redact(md map[string]interface{}) map[string]interface{} {
	if md == nil {
		return nil
	}
	out := make(map[string]interface{}, len(md))
	for k, v := range md {
		if _, ok := sensitiveKeys[strings.ToLower(k)]; ok {
			out[k] = Mask
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return Redact(t)
	case map[string]string:
		m := make(map[string]interface{}, len(t))
		for k, s := range t {
			m[k] = s
		}
		return Redact(m)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = redactValue(item)
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = Redact(item)
		}
		return out
	}
	return v
}
