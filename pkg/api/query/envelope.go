package query

import (
	"encoding/json"
	"fmt"
)

// ProductName prefixes the generated_by marker of every envelope.
const ProductName = "LNT Server"

// GeneratedBy returns the provenance marker for the given server version.
func GeneratedBy(version string) string {
	return fmt.Sprintf("%s v%s", ProductName, version)
}

// Object is a single JSON entity. Values that are nil encode as null.
type Object map[string]any

// Envelope is the top-level object wrapping API responses. A nil section
// is left out of the encoding entirely; a non-nil empty section encodes
// as an empty list.
type Envelope struct {
	GeneratedBy string
	Machines    []Object
	Runs        []Object
	Orders      []Object
	Samples     []Object
}

// MarshalJSON implements json.Marshaler.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 5)
	out["generated_by"] = e.GeneratedBy

	if e.Machines != nil {
		out["machines"] = e.Machines
	}

	if e.Runs != nil {
		out["runs"] = e.Runs
	}

	if e.Orders != nil {
		out["orders"] = e.Orders
	}

	if e.Samples != nil {
		out["samples"] = e.Samples
	}

	return json.Marshal(out)
}

// GraphPointMeta describes where a graph point came from.
type GraphPointMeta struct {
	Date  string `json:"date"`
	Label string `json:"label"`
	RunID string `json:"runID"`
}

// GraphPoint is one point of a graph series. It encodes as the
// three-element list [order, value, meta].
type GraphPoint struct {
	Order []int
	Value float64
	Meta  GraphPointMeta
}

// MarshalJSON implements json.Marshaler.
func (p GraphPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.Order, p.Value, p.Meta})
}
