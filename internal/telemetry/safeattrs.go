package telemetry

import (
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

const (
	maxAttrStringLen = 256
	maxAttrSliceLen  = 32
)

// Keys whose values may carry moderated content or credentials.
var denyKeys = []string{
	"text",
	"content",
	"preview",
	"metadata",
	"authorization",
	"api_key",
	"password",
	"token",
	"email",
	"phone",
	"iban",
	"credit_card",
}

// SafeAttributes filters out unsafe keys/values and returns OTEL attributes
// sorted by key.
func SafeAttributes(values map[string]any) []attribute.KeyValue {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		if !denied(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var attrs []attribute.KeyValue
	for _, k := range keys {
		switch val := values[k].(type) {
		case string:
			if len(val) > maxAttrStringLen {
				continue
			}
			attrs = append(attrs, attribute.String(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case []string:
			if len(val) > maxAttrSliceLen {
				val = val[:maxAttrSliceLen]
			}
			attrs = append(attrs, attribute.StringSlice(k, val))
		}
	}
	return attrs
}

func denied(key string) bool {
	lk := strings.ToLower(key)
	for _, bad := range denyKeys {
		if strings.Contains(lk, bad) {
			return true
		}
	}
	return false
}
