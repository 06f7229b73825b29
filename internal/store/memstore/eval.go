package memstore

import (
	"time"

	"github.com/KremlinV1/11Wire-sub002/internal/store"
)

// matches evaluates the filter conjunction against an entry. Filters must be
// validated before calling.
func matches(e *store.QueueEntry, filter store.Filter) bool {
	for _, c := range filter {
		if !matchCond(e, c) {
			return false
		}
	}
	return true
}

func matchCond(e *store.QueueEntry, c store.Cond) bool {
	left := fieldValue(e, c.Field)
	switch c.Op {
	case store.OpEq:
		return compare(left, c.Value) == 0
	case store.OpIn:
		vs, ok := c.Value.([]any)
		if !ok {
			return false
		}
		for _, v := range vs {
			if compare(left, v) == 0 {
				return true
			}
		}
		return false
	case store.OpLt:
		return compare(left, c.Value) < 0
	case store.OpLte:
		return compare(left, c.Value) <= 0
	case store.OpGt:
		return compare(left, c.Value) > 0
	case store.OpGte:
		return compare(left, c.Value) >= 0
	case store.OpLtField:
		other, ok := c.Value.(string)
		if !ok {
			return false
		}
		return compare(left, fieldValue(e, other)) < 0
	}
	return false
}

// fieldValue extracts a named field from an entry for filter evaluation.
func fieldValue(e *store.QueueEntry, field string) any {
	switch field {
	case store.FieldID:
		return e.ID
	case store.FieldCampaignID:
		return e.CampaignID
	case store.FieldContactID:
		return e.ContactID
	case store.FieldStatus:
		return string(e.Status)
	case store.FieldPriority:
		return e.Priority
	case store.FieldScheduledTime:
		return e.ScheduledTime
	case store.FieldAttempts:
		return e.Attempts
	case store.FieldMaxAttempts:
		return e.MaxAttempts
	case store.FieldCallSID:
		return e.CallSID
	}
	return nil
}

// numericField extracts a field usable in numeric aggregates.
func numericField(e *store.QueueEntry, field string) (float64, bool) {
	switch field {
	case store.FieldPriority:
		return float64(e.Priority), true
	case store.FieldAttempts:
		return float64(e.Attempts), true
	case store.FieldMaxAttempts:
		return float64(e.MaxAttempts), true
	}
	return 0, false
}

// compare returns -1, 0, or 1 ordering a against b. Values are normalised
// so that filter literals may use plain strings, ints, or status constants.
func compare(a, b any) int {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		if !ok {
			return 1
		}
		switch {
		case ta.Before(tb):
			return -1
		case ta.After(tb):
			return 1
		}
		return 0
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 1
		}
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	sa, sb := toString(a), toString(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case store.QueueStatus:
		return string(s)
	case store.CallStatus:
		return string(s)
	}
	return ""
}

// copyEntry returns a deep copy so callers never alias store-internal state.
func copyEntry(e *store.QueueEntry) *store.QueueEntry {
	cp := *e
	cp.LastAttemptTime = copyTime(e.LastAttemptTime)
	cp.StartTime = copyTime(e.StartTime)
	cp.EndTime = copyTime(e.EndTime)
	if e.Metadata != nil {
		cp.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func copyCall(row *store.CallRow) *store.CallRow {
	cp := *row
	cp.AnswerTime = copyTime(row.AnswerTime)
	cp.EndTime = copyTime(row.EndTime)
	if row.Metadata != nil {
		cp.Metadata = make(map[string]any, len(row.Metadata))
		for k, v := range row.Metadata {
			cp.Metadata[k] = v
		}
	}
	cp.Events = append([]store.CallEvent(nil), row.Events...)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func applyQueuePatch(e *store.QueueEntry, p store.QueuePatch) {
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.ScheduledTime != nil {
		e.ScheduledTime = *p.ScheduledTime
	}
	if p.CallSID != nil {
		e.CallSID = *p.CallSID
	}
	if p.LastAttemptStatus != nil {
		e.LastAttemptStatus = *p.LastAttemptStatus
	}
	if p.LastAttemptTime != nil {
		e.LastAttemptTime = p.LastAttemptTime
	}
	if p.LastAttemptDetails != nil {
		e.LastAttemptDetails = *p.LastAttemptDetails
	}
	if p.StartTime != nil {
		e.StartTime = p.StartTime
	}
	if p.EndTime != nil {
		e.EndTime = p.EndTime
	}
	if p.Result != nil {
		e.Result = *p.Result
	}
	if p.ResultDetails != nil {
		e.ResultDetails = *p.ResultDetails
	}
}

func applyCallPatch(row *store.CallRow, p store.CallPatch) {
	if p.Status != nil {
		row.Status = *p.Status
	}
	if p.StartTime != nil {
		row.StartTime = *p.StartTime
	}
	if p.AnswerTime != nil {
		row.AnswerTime = p.AnswerTime
	}
	if p.EndTime != nil {
		row.EndTime = p.EndTime
	}
	if p.Duration != nil {
		row.Duration = *p.Duration
	}
	if p.RecordingURL != nil {
		row.RecordingURL = *p.RecordingURL
	}
	if p.RecordingSID != nil {
		row.RecordingSID = *p.RecordingSID
	}
	if p.AMDResult != nil {
		row.AMDResult = *p.AMDResult
	}
	if p.AMDDuration != nil {
		row.AMDDuration = *p.AMDDuration
	}
	row.Events = append(row.Events, p.AppendEvents...)
}
