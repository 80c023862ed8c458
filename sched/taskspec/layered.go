package taskspec

// Layered is a read-only chain of string-keyed maps consulted in order:
// the first layer holding a key wins. It stands in for what the original
// configuration types did with deep mixin inheritance and method
// resolution order — here a reader just walks layers top to bottom.
type Layered struct {
	layers []map[string]any
}

// NewLayered builds a Layered view over layers, first wins.
func NewLayered(layers ...map[string]any) Layered {
	return Layered{layers: layers}
}

// Lookup returns the first value bound to key across layers.
func (l Layered) Lookup(key string) (any, bool) {
	for _, layer := range l.layers {
		if layer == nil {
			continue
		}
		if v, ok := layer[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// String is Lookup narrowed to a string result, with a fallback.
func (l Layered) String(key, fallback string) string {
	v, ok := l.Lookup(key)
	if !ok {
		return fallback
	}
	s, ok := v.(string)
	if !ok {
		return fallback
	}
	return s
}
