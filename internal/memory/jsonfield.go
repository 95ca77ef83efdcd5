package memory

import (
	"database/sql"
	"encoding/json"
)

// marshalJSONField serializes a slice/map field for storage in a TEXT
// column, returning nil for an empty value so the column stores NULL
// rather than the literal "null" or "[]".
func marshalJSONField(v any) (any, error) {
	switch t := v.(type) {
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	case map[string]string:
		if len(t) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// unmarshalJSONField decodes a nullable TEXT column back into dest,
// leaving dest untouched when the column is NULL.
func unmarshalJSONField(ns sql.NullString, dest any) {
	if !ns.Valid || ns.String == "" {
		return
	}
	_ = json.Unmarshal([]byte(ns.String), dest)
}
