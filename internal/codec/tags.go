// internal/codec/tags.go
package codec

import (
	"encoding/json"
	"sort"
	"strings"
)

// ExtractMetricTags parses the tag block of a composite metric key such as
// `probe_requests{scenario:probe_100,target_rps:100}`. Pairs may use ':' or
// '='; a JSON object block is accepted as well. Anything it cannot read
// yields an empty map.
func ExtractMetricTags(key, metricName string) map[string]string {
	tags := make(map[string]string)

	raw := key
	if metricName != "" && strings.HasPrefix(raw, metricName) {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start >= 0 && end > start {
			raw = raw[start+1 : end]
		} else {
			raw = ""
		}
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return tags
	}

	if strings.HasPrefix(raw, "{") && strings.HasSuffix(raw, "}") {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			for k, v := range parsed {
				if s, ok := v.(string); ok {
					tags[k] = s
				} else if b, err := json.Marshal(v); err == nil {
					tags[k] = string(b)
				}
			}
			return tags
		}
		raw = raw[1 : len(raw)-1]
	}

	for _, part := range strings.Split(raw, ",") {
		segment := strings.TrimSpace(part)
		if segment == "" {
			continue
		}
		sep := strings.Index(segment, ":")
		if sep == -1 {
			sep = strings.Index(segment, "=")
		}
		if sep == -1 {
			continue
		}
		name := strings.Trim(strings.TrimSpace(segment[:sep]), `"`)
		value := strings.Trim(strings.TrimSpace(segment[sep+1:]), `"`)
		if name != "" {
			tags[name] = value
		}
	}

	return tags
}

// CompositeKey builds the key ExtractMetricTags reads back. Tags with empty
// values are dropped and the rest are sorted by name.
func CompositeKey(metricName string, tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k, v := range tags {
		if v != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return metricName
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+tags[k])
	}
	return metricName + "{" + strings.Join(parts, ",") + "}"
}
