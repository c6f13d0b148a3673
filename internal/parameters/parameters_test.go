package parameters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromConfigString(t *testing.T) {
	params := NewFromConfigString("hidden_nodes=256,learning_rate=0.001,normalize,")
	assert.Equal(t, Params{
		"hidden_nodes":  "256",
		"learning_rate": "0.001",
		"normalize":     "",
	}, params)
	assert.Empty(t, NewFromConfigString(""))
}

func TestGetParamOr(t *testing.T) {
	params := NewFromConfigString("nodes=128,rate=0.5,flip=false,name=conv4,extra")

	nodes, err := GetParamOr(params, "nodes", 64)
	require.NoError(t, err)
	assert.Equal(t, 128, nodes)

	missing, err := GetParamOr(params, "missing", 64)
	require.NoError(t, err)
	assert.Equal(t, 64, missing)

	rate, err := GetParamOr(params, "rate", float64(1))
	require.NoError(t, err)
	assert.Equal(t, 0.5, rate)

	rate32, err := GetParamOr(params, "rate", float32(1))
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), rate32)

	flip, err := GetParamOr(params, "flip", true)
	require.NoError(t, err)
	assert.False(t, flip)

	// A key without a value parses as a true bool.
	extra, err := GetParamOr(params, "extra", false)
	require.NoError(t, err)
	assert.True(t, extra)

	name, err := GetParamOr(params, "name", "")
	require.NoError(t, err)
	assert.Equal(t, "conv4", name)

	_, err = GetParamOr(params, "name", 0)
	assert.Error(t, err)
}

func TestPopParamOrAndAssertConsumed(t *testing.T) {
	params := NewFromConfigString("nodes=128,typo_key=3")

	nodes, err := PopParamOr(params, "nodes", 64)
	require.NoError(t, err)
	assert.Equal(t, 128, nodes)
	assert.NotContains(t, params, "nodes")

	err = params.AssertConsumed()
	require.ErrorContains(t, err, "typo_key")

	_, err = PopParamOr(params, "typo_key", 0)
	require.NoError(t, err)
	assert.NoError(t, params.AssertConsumed())
}
