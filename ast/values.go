package ast

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Params is the WITH clause of APPLY: either KeywordParams or URIParam.
type Params interface {
	isParams()
}

// KeywordParams are ordered key=value pairs.
type KeywordParams []Param

// URIParam is a single URI handed to the analytics verbatim.
type URIParam struct {
	URI string `json:"uri"`
}

func (KeywordParams) isParams() {}
func (URIParam) isParams()      {}

// Param is one key=value pair of KeywordParams.
type Param struct {
	Key   string `json:"key"`
	Value Value  `json:"value"`
}

// Map returns the parameters as plain Go values keyed by name.
func (kp KeywordParams) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(kp))
	for _, p := range kp {
		out[p.Key] = p.Value.Native()
	}
	return out
}

// MarshalJSON encodes the keyword params as a JSON object.
func (kp KeywordParams) MarshalJSON() ([]byte, error) {
	return json.Marshal(kp.Map())
}

// Value is a parameter value: IntValue, FloatValue, StringValue or ListValue.
type Value interface {
	Native() interface{}
	isValue()
}

type (
	IntValue    int64
	FloatValue  float64
	StringValue string
	ListValue   []string
)

func (v IntValue) Native() interface{}    { return int64(v) }
func (v FloatValue) Native() interface{}  { return float64(v) }
func (v StringValue) Native() interface{} { return string(v) }
func (v ListValue) Native() interface{}   { return []string(v) }

func (IntValue) isValue()    {}
func (FloatValue) isValue()  {}
func (StringValue) isValue() {}
func (ListValue) isValue()   {}

// AggFunc is an aggregate function of GROUP ... WITH.
type AggFunc string

const (
	AggMin     AggFunc = "min"
	AggMax     AggFunc = "max"
	AggSum     AggFunc = "sum"
	AggAvg     AggFunc = "avg"
	AggCount   AggFunc = "count"
	AggNUnique AggFunc = "nunique"
)

// ParseAggFunc matches name case-insensitively against the aggregate functions.
func ParseAggFunc(name string) (AggFunc, bool) {
	switch f := AggFunc(strings.ToLower(name)); f {
	case AggMin, AggMax, AggSum, AggAvg, AggCount, AggNUnique:
		return f, true
	}
	return "", false
}

// AggregateSpec is one aggregate of a GROUP command.
type AggregateSpec struct {
	Func  AggFunc `json:"func"`
	Attr  string  `json:"attr"`
	Alias string  `json:"alias"`
}

// DefaultAlias is the output column name used when no AS alias is given.
func DefaultAlias(fn AggFunc, attr string) string {
	return fmt.Sprintf("%s_%s", fn, attr)
}

// Literal is the data body of NEW: StringList or ObjectList.
type Literal interface {
	Len() int
	isLiteral()
}

// StringList holds quoted strings; each becomes one entity whose main
// attribute is the string.
type StringList []string

// ObjectList holds JSON objects, one per record.
type ObjectList []map[string]interface{}

func (l StringList) Len() int { return len(l) }
func (l ObjectList) Len() int { return len(l) }

func (StringList) isLiteral() {}
func (ObjectList) isLiteral() {}
