package audit

import (
	"encoding/json"
	"sort"

	"github.com/orgstack/hrms/internal/models"
)

// bookkeepingFields never count as changes.
var bookkeepingFields = map[string]struct{}{
	"id":         {},
	"created_at": {},
	"updated_at": {},
	"createdAt":  {},
	"updatedAt":  {},
}

// ChangedFields derives the list of fields whose serialized value differs
// between the two snapshots. When either snapshot is absent there is
// nothing to diff against and the list is empty. A changed nested value
// reports the whole top-level key.
func ChangedFields(oldValues, newValues models.JSONMap) models.StringList {
	if len(oldValues) == 0 || len(newValues) == 0 {
		return models.StringList{}
	}

	keys := make(map[string]struct{}, len(oldValues)+len(newValues))
	for k := range oldValues {
		keys[k] = struct{}{}
	}
	for k := range newValues {
		keys[k] = struct{}{}
	}

	changed := models.StringList{}
	for k := range keys {
		if _, skip := bookkeepingFields[k]; skip {
			continue
		}
		if serializeValue(oldValues[k]) != serializeValue(newValues[k]) {
			changed = append(changed, k)
		}
	}

	sort.Strings(changed)
	return changed
}

func serializeValue(v interface{}) string {
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
