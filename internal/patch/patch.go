package patch

// Set assigns value at path inside root, creating intermediate containers as
// it walks. A missing intermediate becomes an array when the next segment is
// an int and an object otherwise. An existing node of the wrong kind for its
// segment is replaced. An empty path returns value itself; the caller decides
// whether whole-value replacement is meaningful.
func Set(root any, path []any, value any) any {
	if len(path) == 0 {
		return value
	}
	return assign(root, path, value)
}

func assign(node any, path []any, value any) any {
	seg, rest := path[0], path[1:]

	switch key := seg.(type) {
	case string:
		m, ok := node.(map[string]any)
		if !ok {
			m = make(map[string]any)
		}
		if len(rest) == 0 {
			m[key] = value
		} else {
			m[key] = assign(m[key], rest, value)
		}
		return m

	case int:
		if key < 0 {
			return node
		}
		s, ok := node.([]any)
		if !ok {
			s = nil
		}
		for len(s) <= key {
			s = append(s, nil)
		}
		if len(rest) == 0 {
			s[key] = value
		} else {
			s[key] = assign(s[key], rest, value)
		}
		return s

	default:
		// Unsupported segment type; leave the tree untouched.
		return node
	}
}

// Delete removes the node at path inside root. A missing intermediate makes
// the whole operation a no-op, as does an empty path (there is no parent to
// delete from). Array elements are spliced out, not left as holes.
func Delete(root any, path []any) any {
	if len(path) == 0 {
		return root
	}
	return remove(root, path)
}

func remove(node any, path []any) any {
	seg, rest := path[0], path[1:]

	switch key := seg.(type) {
	case string:
		m, ok := node.(map[string]any)
		if !ok {
			return node
		}
		if len(rest) == 0 {
			delete(m, key)
			return m
		}
		child, ok := m[key]
		if !ok {
			return m
		}
		m[key] = remove(child, rest)
		return m

	case int:
		s, ok := node.([]any)
		if !ok || key < 0 || key >= len(s) {
			return node
		}
		if len(rest) == 0 {
			return append(s[:key], s[key+1:]...)
		}
		s[key] = remove(s[key], rest)
		return s

	default:
		return node
	}
}
