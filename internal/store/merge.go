package store

// Merge overlays partial onto base and returns a new document. Nested
// objects merge recursively; every other value (arrays, scalars, null)
// replaces what was there. Neither input is modified.
func Merge(base, partial Document) Document {
	out := Clone(base)
	if out == nil {
		out = Document{}
	}
	for k, v := range partial {
		if pm, ok := asObject(v); ok {
			if bm, ok := asObject(out[k]); ok {
				out[k] = map[string]any(Merge(bm, pm))
				continue
			}
			out[k] = map[string]any(Clone(pm))
			continue
		}
		out[k] = v
	}
	return out
}

// Clone deep-copies nested objects and arrays of a document.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Clone(t))
	case Document:
		return map[string]any(Clone(t))
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = cloneValue(e)
		}
		return cp
	default:
		return v
	}
}

func asObject(v any) (Document, bool) {
	switch t := v.(type) {
	case map[string]any:
		return Document(t), true
	case Document:
		return t, true
	}
	return nil, false
}
