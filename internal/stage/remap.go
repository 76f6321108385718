package stage

import (
	"fmt"
	"strings"

	"github.com/NikhilSetiya/fallback-engine/pkg/errors"
)

// RemapTable is an ordered from→to mapping. Order matters for endpoint
// remaps: the first matching entry wins.
type RemapTable struct {
	entries []remapEntry
	index   map[string]string
}

type remapEntry struct {
	From string
	To   string
}

// ParseEndpointRemaps builds an endpoint remap table from a comma separated
// "from:to" list, e.g. "/users:/api/v2/accounts,/orders:/api/v2/purchases".
// Both sides must be absolute paths and each source may appear only once.
func ParseEndpointRemaps(spec string) (*RemapTable, error) {
	table, err := parseRemaps(spec)
	if err != nil {
		return nil, err
	}
	for _, entry := range table.entries {
		if !strings.HasPrefix(entry.From, "/") || !strings.HasPrefix(entry.To, "/") {
			return nil, errors.NewValidationError(fmt.Sprintf("endpoint remap %q:%q must use absolute paths", entry.From, entry.To))
		}
	}
	return table, nil
}

// ParseFieldRemaps builds a field rename table from a comma separated
// "from:to" list, e.g. "name:userName,email:contactEmail"
func ParseFieldRemaps(spec string) (*RemapTable, error) {
	table, err := parseRemaps(spec)
	if err != nil {
		return nil, err
	}
	for _, entry := range table.entries {
		if strings.ContainsAny(entry.From, "/ ") || strings.ContainsAny(entry.To, "/ ") {
			return nil, errors.NewValidationError(fmt.Sprintf("invalid field remap %q:%q", entry.From, entry.To))
		}
	}
	return table, nil
}

func parseRemaps(spec string) (*RemapTable, error) {
	table := &RemapTable{index: make(map[string]string)}
	if strings.TrimSpace(spec) == "" {
		return table, nil
	}

	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, errors.NewValidationError(fmt.Sprintf("remap entry %q must be from:to", pair))
		}
		from := strings.TrimSpace(parts[0])
		to := strings.TrimSpace(parts[1])
		if from == "" || to == "" {
			return nil, errors.NewValidationError(fmt.Sprintf("remap entry %q has an empty side", pair))
		}
		if from == to {
			return nil, errors.NewValidationError(fmt.Sprintf("remap entry %q maps to itself", pair))
		}
		if _, exists := table.index[from]; exists {
			return nil, errors.NewValidationError(fmt.Sprintf("duplicate remap source %q", from))
		}
		table.entries = append(table.entries, remapEntry{From: from, To: to})
		table.index[from] = to
	}
	return table, nil
}

// Len returns the number of entries in the table
func (t *RemapTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Inverse returns a table with every entry reversed, preserving order
func (t *RemapTable) Inverse() *RemapTable {
	inv := &RemapTable{index: make(map[string]string, t.Len())}
	if t == nil {
		return inv
	}
	for _, entry := range t.entries {
		if _, exists := inv.index[entry.To]; exists {
			continue
		}
		inv.entries = append(inv.entries, remapEntry{From: entry.To, To: entry.From})
		inv.index[entry.To] = entry.From
	}
	return inv
}

// RemapEndpoint rewrites a request path. Matches are first-entry-wins and
// apply either to the whole path or to a prefix ending at a segment boundary;
// the unmatched suffix is preserved.
func (t *RemapTable) RemapEndpoint(path string) (string, bool) {
	if t == nil {
		return path, false
	}
	for _, entry := range t.entries {
		if path == entry.From {
			return entry.To, true
		}
		if strings.HasPrefix(path, entry.From+"/") {
			return entry.To + path[len(entry.From):], true
		}
	}
	return path, false
}

// RenameFields applies the table to the top level keys of an object, or to
// each object element when the value is an array. Other values pass through
// untouched. The returned bool reports whether any key changed.
func (t *RemapTable) RenameFields(value interface{}) (interface{}, bool) {
	if t == nil || t.Len() == 0 || value == nil {
		return value, false
	}

	switch v := value.(type) {
	case map[string]interface{}:
		return t.renameObject(v)
	case []interface{}:
		changed := false
		out := make([]interface{}, len(v))
		for i, element := range v {
			if obj, ok := element.(map[string]interface{}); ok {
				renamed, didChange := t.renameObject(obj)
				out[i] = renamed
				changed = changed || didChange
			} else {
				out[i] = element
			}
		}
		return out, changed
	default:
		return value, false
	}
}

func (t *RemapTable) renameObject(obj map[string]interface{}) (map[string]interface{}, bool) {
	changed := false
	out := make(map[string]interface{}, len(obj))
	for key, value := range obj {
		if to, ok := t.index[key]; ok {
			out[to] = value
			changed = true
		} else {
			out[key] = value
		}
	}
	return out, changed
}
