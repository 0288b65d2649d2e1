package tinymq

// Small accessors for the loosely-typed JSON bodies the delegation
// subsystem parses. The protocol's various *_RESP/notification payloads
// are not worth full struct definitions since several accept more than
// one key spelling or encode booleans as strings.

func stringField(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func firstStringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := stringField(m, k); v != "" {
			return v
		}
	}
	return ""
}

func int64Field(m map[string]any, key string) int64 {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			return int64(f)
		}
	}
	return 0
}

// boolField normalises booleans the protocol sometimes encodes as the
// strings "true"/"false" (see get_topic_sensors in spec 4.G).
func boolField(m map[string]any, key string) bool {
	if v, ok := m[key]; ok {
		switch t := v.(type) {
		case bool:
			return t
		case string:
			return t == "true"
		}
	}
	return false
}
