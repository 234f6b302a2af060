package chat

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Decode converts a feed value into out.
func Decode(value any, out any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("chat: encode snapshot: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("chat: decode snapshot: %w", err)
	}
	return nil
}

// Encode converts a record into the map form stored in the feed.
func Encode(v any) (map[string]any, error) {
	var out map[string]any
	if err := Decode(v, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeChildren decodes a collection snapshot (child id -> record) into a slice ordered by
// child id. setID, when non-nil, fills the id from the child key for records stored without one.
// Children that fail to decode are skipped and reported through the returned count.
func DecodeChildren[T any](value any, setID func(*T, string)) ([]T, int) {
	children, ok := value.(map[string]any)
	if !ok {
		return nil, 0
	}
	keys := make([]string, 0, len(children))
	for k := range children {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]T, 0, len(keys))
	skipped := 0
	for _, k := range keys {
		var item T
		if err := Decode(children[k], &item); err != nil {
			skipped++
			continue
		}
		if setID != nil {
			setID(&item, k)
		}
		out = append(out, item)
	}
	return out, skipped
}
