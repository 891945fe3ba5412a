package ast

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducesDataset(t *testing.T) {
	assert.True(t, ProducesDataset(&Get{}))
	assert.True(t, ProducesDataset(&Merge{}))
	assert.True(t, ProducesDataset(&Apply{}))
	assert.False(t, ProducesDataset(&Disp{}))
	assert.False(t, ProducesDataset(&Info{}))
	assert.False(t, ProducesDataset(&Save{}))
}

func TestInputs(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Inputs(&Join{Left: "a", Right: "b"}))
	assert.Equal(t, []string{"x", "y", "z"}, Inputs(&Merge{Inputs: []string{"x", "y", "z"}}))
	assert.Nil(t, Inputs(&Get{From: "procs"}))
	assert.Nil(t, Inputs(&New{}))
}

func TestParseAggFunc(t *testing.T) {
	fn, ok := ParseAggFunc("NUnique")
	require.True(t, ok)
	assert.Equal(t, AggNUnique, fn)

	_, ok = ParseAggFunc("median")
	assert.False(t, ok)

	assert.Equal(t, "max_dst_ref.value", DefaultAlias(AggMax, "dst_ref.value"))
}

func TestKeywordParamsMap(t *testing.T) {
	kp := KeywordParams{
		{Key: "x", Value: IntValue(1)},
		{Key: "y", Value: ListValue{"a", "b", "c"}},
		{Key: "z", Value: FloatValue(0.1)},
	}

	data, err := json.Marshal(kp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1,"y":["a","b","c"],"z":0.1}`, string(data))
}

func TestStatementMarshalJSON(t *testing.T) {
	stmt := Statement{
		Target:  "x",
		Command: &Sort{Input: "y", Key: "pid", Order: OrderAsc},
	}

	data, err := json.Marshal(stmt)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "sort", decoded["command"])
	assert.Equal(t, "x", decoded["target"])
	assert.Equal(t, "pid", decoded["args"].(map[string]interface{})["key"])
}
