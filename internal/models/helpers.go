package models

import (
	"fmt"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// RecordIDString safely extracts the string ID from a SurrealDB RecordID.
// Returns an error if the ID is not a string type.
func RecordIDString(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected ID type: %T (expected string)", id.ID)
	}
	return s, nil
}

// KeyString renders a primary key value for logs and map lookups.
// SurrealDB record ids render as their inner id.
func KeyString(v any) string {
	switch k := v.(type) {
	case nil:
		return ""
	case string:
		return k
	case surrealmodels.RecordID:
		if s, err := RecordIDString(k); err == nil {
			return s
		}
		return fmt.Sprint(k.ID)
	case *surrealmodels.RecordID:
		if k == nil {
			return ""
		}
		return KeyString(*k)
	default:
		return fmt.Sprint(k)
	}
}
