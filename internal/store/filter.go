package store

import "fmt"

// Queue entry field names usable in filters and aggregates. The postgres
// store maps them to columns; memstore evaluates them directly.
const (
	FieldID            = "id"
	FieldCampaignID    = "campaign_id"
	FieldContactID     = "contact_id"
	FieldStatus        = "status"
	FieldPriority      = "priority"
	FieldScheduledTime = "scheduled_time"
	FieldAttempts      = "attempts"
	FieldMaxAttempts   = "max_attempts"
	FieldCallSID       = "call_sid"
)

// Op is a comparison operator in a filter condition.
type Op string

const (
	OpEq  Op = "eq"
	OpIn  Op = "in"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpGt  Op = "gt"
	OpGte Op = "gte"

	// OpLtField compares two fields of the same row (e.g. attempts <
	// max_attempts). Value names the right-hand field.
	OpLtField Op = "lt_field"
)

// Cond is one condition of a filter.
type Cond struct {
	Field string
	Op    Op
	Value any
}

// Filter is a conjunction of conditions. An empty filter matches everything.
type Filter []Cond

// Eq matches rows where field equals v.
func Eq(field string, v any) Cond {
	return Cond{Field: field, Op: OpEq, Value: v}
}

// In matches rows where field is one of vs.
func In(field string, vs ...any) Cond {
	return Cond{Field: field, Op: OpIn, Value: vs}
}

// Lt matches rows where field is strictly less than v.
func Lt(field string, v any) Cond {
	return Cond{Field: field, Op: OpLt, Value: v}
}

// Lte matches rows where field is at most v.
func Lte(field string, v any) Cond {
	return Cond{Field: field, Op: OpLte, Value: v}
}

// Gt matches rows where field is strictly greater than v.
func Gt(field string, v any) Cond {
	return Cond{Field: field, Op: OpGt, Value: v}
}

// Gte matches rows where field is at least v.
func Gte(field string, v any) Cond {
	return Cond{Field: field, Op: OpGte, Value: v}
}

// LtField matches rows where field is strictly less than another field of
// the same row.
func LtField(field, other string) Cond {
	return Cond{Field: field, Op: OpLtField, Value: other}
}

// Validate checks that every condition uses a known field and operator.
// Both store implementations call it before evaluating a filter, so a typo
// in a field name fails loudly instead of silently matching nothing.
func (f Filter) Validate() error {
	known := map[string]bool{
		FieldID: true, FieldCampaignID: true, FieldContactID: true,
		FieldStatus: true, FieldPriority: true, FieldScheduledTime: true,
		FieldAttempts: true, FieldMaxAttempts: true, FieldCallSID: true,
	}
	for _, c := range f {
		if !known[c.Field] {
			return fmt.Errorf("store: unknown filter field %q", c.Field)
		}
		switch c.Op {
		case OpEq, OpIn, OpLt, OpLte, OpGt, OpGte:
		case OpLtField:
			other, ok := c.Value.(string)
			if !ok || !known[other] {
				return fmt.Errorf("store: lt_field condition on %q needs a known field name, got %v", c.Field, c.Value)
			}
		default:
			return fmt.Errorf("store: unknown filter op %q", c.Op)
		}
	}
	return nil
}

// AggregateOp selects the aggregate computed by [Store.Aggregate].
type AggregateOp string

const (
	AggCount AggregateOp = "count"
	AggSum   AggregateOp = "sum"
	AggAvg   AggregateOp = "avg"
	AggMin   AggregateOp = "min"
	AggMax   AggregateOp = "max"
)
