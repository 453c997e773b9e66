package protocol

// Pair binds one key to one value of an order-paired request.
type Pair[K comparable, V any] struct {
	Key   K
	Value V
}

// Zip pairs keys and values by index. Length mismatch is a ProtocolError.
func Zip[K comparable, V any](keys []K, values []V, keyField, valueField string) ([]Pair[K, V], error) {
	if len(keys) != len(values) {
		return nil, Protocolf("%s and %s must have equal length (%d != %d)",
			keyField, valueField, len(keys), len(values))
	}
	pairs := make([]Pair[K, V], len(keys))
	for i := range keys {
		pairs[i] = Pair[K, V]{Key: keys[i], Value: values[i]}
	}
	return pairs, nil
}

// Keys returns the keys of pairs in order.
func Keys[K comparable, V any](pairs []Pair[K, V]) []K {
	keys := make([]K, len(pairs))
	for i, p := range pairs {
		keys[i] = p.Key
	}
	return keys
}
