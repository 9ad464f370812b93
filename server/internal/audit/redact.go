package audit

import "github.com/onsembl/onsembl/shared/types"

// Redact walks details and returns a copy with every sensitive key handled
// per its §4.E disposition: keys in types.DroppedKeys are removed entirely
// (their value is the live credential, so masking it would still leak its
// presence/shape); every other key in types.SensitiveKeys is replaced with
// the literal "[REDACTED]". Nested maps are walked recursively; other value
// types pass through unchanged.
func Redact(details map[string]interface{}) map[string]interface{} {
	if details == nil {
		return nil
	}
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		switch {
		case types.DroppedKeys[k]:
			continue
		case types.SensitiveKeys[k]:
			out[k] = "[REDACTED]"
		default:
			if nested, ok := v.(map[string]interface{}); ok {
				out[k] = Redact(nested)
			} else {
				out[k] = v
			}
		}
	}
	return out
}
