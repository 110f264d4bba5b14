package graph

import "encoding/json"

// Ref is a pointer to another record, serialized as {"__ref": key} to match
// the engine's wire/snapshot contract exactly.
type Ref struct {
	Key string
}

type refJSON struct {
	Ref string `json:"__ref"`
}

// MarshalJSON renders a Ref as {"__ref": key}.
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(refJSON{Ref: r.Key})
}

// UnmarshalJSON parses {"__ref": key} into a Ref.
func (r *Ref) UnmarshalJSON(data []byte) error {
	var raw refJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Key = raw.Ref
	return nil
}

// IsRef reports whether v is a Ref or a decoded {"__ref": ...} map, and
// returns the key it points to.
func IsRef(v interface{}) (string, bool) {
	switch t := v.(type) {
	case Ref:
		return t.Key, true
	case *Ref:
		if t == nil {
			return "", false
		}
		return t.Key, true
	case map[string]interface{}:
		if key, ok := t["__ref"].(string); ok {
			return key, true
		}
	}
	return "", false
}

// RefList converts a slice of record keys into a slice of Ref values.
func RefList(keys []string) []Ref {
	out := make([]Ref, len(keys))
	for i, k := range keys {
		out[i] = Ref{Key: k}
	}
	return out
}
