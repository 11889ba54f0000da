// Package sanitize strips non-persistable values from document value trees
// before they reach the store. The store rejects writes containing undefined
// field values outright, so every write path must pass derived data through
// this package first.
//
// Value trees use map[string]any / []any / scalars, the shape produced by
// encoding/json. Two kinds of "empty" are distinguished:
//
//   - Undefined: the field was never produced (marker value). Stripped
//     everywhere.
//   - nil: an explicit null. Kept on object fields, dropped from arrays.
//
// The asymmetry is deliberate and load-bearing: object fields keep explicit
// null so callers can clear a stored value, while arrays never carry holes.
package sanitize

// undefinedMarker is the unexported type behind Undefined.
type undefinedMarker struct{}

// Undefined marks a value that should not be persisted at all. Builders of
// derived documents insert it for fields whose source was absent.
var Undefined = undefinedMarker{}

// IsUndefined reports whether v is the Undefined marker.
func IsUndefined(v any) bool {
	_, ok := v.(undefinedMarker)
	return ok
}

// Document sanitizes a document map. The result shares no containers with
// the input. A nil input yields an empty map.
func Document(doc map[string]any) map[string]any {
	out, keep := cleanObject(doc)
	if !keep {
		return map[string]any{}
	}
	return out
}

// Value sanitizes an arbitrary value tree. The second return is false when
// the value itself must be dropped (it was Undefined, or a container emptied
// out entirely).
func Value(v any) (any, bool) {
	switch t := v.(type) {
	case undefinedMarker:
		return nil, false
	case map[string]any:
		return objectOrDrop(t)
	case []any:
		return arrayOrDrop(t)
	default:
		// Scalars pass through, including explicit null.
		return v, true
	}
}

func objectOrDrop(m map[string]any) (any, bool) {
	out, keep := cleanObject(m)
	if !keep {
		return nil, false
	}
	return out, true
}

func arrayOrDrop(a []any) (any, bool) {
	out := make([]any, 0, len(a))
	for _, item := range a {
		if item == nil || IsUndefined(item) {
			continue
		}
		cleaned, keep := Value(item)
		if !keep {
			continue
		}
		out = append(out, cleaned)
	}
	if len(out) == 0 && len(a) > 0 {
		// Container emptied out by stripping; drop it entirely.
		return nil, false
	}
	return out, true
}

func cleanObject(m map[string]any) (map[string]any, bool) {
	if m == nil {
		return nil, false
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if IsUndefined(v) {
			continue
		}
		if v == nil {
			out[k] = nil
			continue
		}
		cleaned, keep := Value(v)
		if !keep {
			continue
		}
		out[k] = cleaned
	}
	if len(out) == 0 && len(m) > 0 {
		return nil, false
	}
	return out, true
}
