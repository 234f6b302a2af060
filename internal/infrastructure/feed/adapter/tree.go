package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/port"
)

// normalize converts v into its plain JSON form so every adapter stores and returns the same
// shapes (map[string]any, []any, float64, ...). It also yields a deep copy.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("feed: encode value: %w", err)
	}
	return decode(raw)
}

func decode(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("feed: decode value: %w", err)
	}
	return out, nil
}

// mergeShallow returns current with the keys of partial overlaid. current may be nil.
func mergeShallow(current any, partial map[string]any) (map[string]any, error) {
	out := make(map[string]any)
	switch cur := current.(type) {
	case nil:
	case map[string]any:
		for k, v := range cur {
			out[k] = v
		}
	default:
		return nil, port.ErrNotMap
	}
	norm, err := normalize(partial)
	if err != nil {
		return nil, err
	}
	if m, ok := norm.(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
	}
	return out, nil
}

// newID returns a UUIDv7 string; its time prefix keeps appended children in creation order.
func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("feed: generate id: %w", err)
	}
	return id.String(), nil
}
