package settings

import "strings"

// SplitKey normalizes a dotted key ("codex.sandbox") into path segments.
// The empty key addresses the root and yields no segments.
func SplitKey(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, ".")
}

// Lookup walks segs from root. A missing segment, or indexing through a
// non-mapping, yields false rather than an error.
func Lookup(root Value, segs []string) (Value, bool) {
	cur := root
	for _, seg := range segs {
		if cur.kind != KindMapping {
			return Value{}, false
		}
		next, ok := cur.m[seg]
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// Assign writes v at segs below root, creating empty mappings for missing
// intermediate segments and replacing non-mapping intermediates.
// root must be a mapping and segs must not be empty.
func Assign(root Value, segs []string, v Value) {
	if root.kind != KindMapping || len(segs) == 0 {
		return
	}
	cur := root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur.m[seg]
		if !ok || next.kind != KindMapping {
			next = EmptyMapping()
			cur.m[seg] = next
		}
		cur = next
	}
	cur.m[segs[len(segs)-1]] = v
}

// Merge overlays src onto dst recursively: where both sides hold a mapping
// the children are merged, otherwise src replaces dst. Keys only present in
// dst survive, so nested defaults outlive a partial override.
func Merge(dst, src Value) Value {
	if dst.kind != KindMapping || src.kind != KindMapping {
		return src.Clone()
	}
	out := dst.Clone()
	for k, sv := range src.m {
		if dv, ok := out.m[k]; ok {
			out.m[k] = Merge(dv, sv)
			continue
		}
		out.m[k] = sv.Clone()
	}
	return out
}
