// Package template compiles record templates into fast, repeatable generators.
//
// A template is plain text with embedded generator-function calls:
//
//	{"id": "GenerateId(1000)", "ts": "TimestampNow()",
//	 "color": "ReferenceValue(Colors, Primary)",
//	 "level": "GenerateWeightedLabels(("info", 90), ("warn", 9), ("error", 1))"}
//
// Compile scans the text once, resolves reference values with one batched
// fetch per table, and produces an immutable sequence of segments. Every call
// to Generate evaluates the dynamic segments afresh and writes one record
// followed by a newline.
//
// Supported functions:
//   - TimestampNow(): current UTC time as 2006-01-02 15:04:05.000
//   - GenerateId(n): uniform integer in [0, n), zero padded to 5 digits
//   - ReferenceValue(table, group): random pick from a catalog value list
//   - GenerateWeightedLabels(("label", weight), ...): weighted label draw
package template

import "fmt"

// FuncKind identifies a generator function.
type FuncKind int

const (
	// FuncTimestampNow is TimestampNow()
	FuncTimestampNow FuncKind = iota + 1
	// FuncReferenceValue is ReferenceValue(table, group)
	FuncReferenceValue
	// FuncGenerateID is GenerateId(cardinality)
	FuncGenerateID
	// FuncWeightedLabels is GenerateWeightedLabels(("label", weight), ...)
	FuncWeightedLabels
)

// String returns the function name as written in templates.
func (k FuncKind) String() string {
	switch k {
	case FuncTimestampNow:
		return "TimestampNow"
	case FuncReferenceValue:
		return "ReferenceValue"
	case FuncGenerateID:
		return "GenerateId"
	case FuncWeightedLabels:
		return "GenerateWeightedLabels"
	default:
		return fmt.Sprintf("FuncKind(%d)", int(k))
	}
}

// Segment is one compiled unit of output: a Literal or a Generated value.
type Segment interface {
	segment()
}

// Literal is fixed template text.
type Literal struct {
	Text string
}

// Generated is a placeholder replaced by a fresh value on every record.
type Generated struct {
	Func    FuncKind
	Produce func() (string, error)
}

func (Literal) segment()   {}
func (Generated) segment() {}
