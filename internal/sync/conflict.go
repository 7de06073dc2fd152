package sync

import (
	"reflect"
	"time"
)

// mergeRemoteIntoLocal resolves divergent edits field by field.  Each side
// wins only the fields it touched more recently; a field absent or empty on
// one side never overwrites a present value on the other.  An exact timestamp
// tie goes to the remote side so resolution stays deterministic.
//
// Only canonical mapped fields reach this function.  The returned map is the
// full post-merge field set for the local record.
func mergeRemoteIntoLocal(local LocalRecord, remoteFields map[string]interface{}, remoteUpdatedAt time.Time) (map[string]interface{}, bool) {

	merged := make(map[string]interface{}, len(local.Fields)+len(remoteFields))
	for name, value := range local.Fields {
		merged[name] = value
	}

	changed := false

	for name, remoteValue := range remoteFields {
		if isEmptyValue(remoteValue) {
			continue
		}

		localValue, localHasField := merged[name]
		if !localHasField || isEmptyValue(localValue) {
			merged[name] = remoteValue
			changed = true
			continue
		}

		if localFieldTime(local, name).After(remoteUpdatedAt) {
			continue
		}

		// Field values decoded from provider JSON can be maps or slices,
		// which == would panic on.
		if !reflect.DeepEqual(merged[name], remoteValue) {
			merged[name] = remoteValue
			changed = true
		}
	}

	return merged, changed
}

// localFieldTime returns when the local side last touched a field, falling
// back to the record timestamp when per-field times are unavailable.
func localFieldTime(local LocalRecord, field string) time.Time {
	if ts, ok := local.FieldUpdatedAt[field]; ok {
		return ts
	}
	return local.UpdatedAt
}

func isEmptyValue(value interface{}) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return s == ""
	}
	return false
}
