package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEverySchemaAttributeIsAccessible(t *testing.T) {
	n := NewNeuron(720575940000000001)
	for _, a := range NeuronSchema {
		v, ok := n.Value(a.Name)
		require.True(t, ok, "attribute %s has no accessor", a.Name)
		require.NotNil(t, v, "attribute %s must have a default", a.Name)
	}
	_, ok := n.Value("not_an_attribute")
	assert.False(t, ok)
}

func TestSchemaFingerprintStable(t *testing.T) {
	assert.Equal(t, SchemaFingerprint(), SchemaFingerprint())
	assert.Contains(t, SchemaSignature(), "root_id:int;")
	assert.Contains(t, SchemaSignature(), "similar_cell_scores:dict;")
}

func TestStringsAndTruthy(t *testing.T) {
	assert.Nil(t, Strings(""))
	assert.Equal(t, []string{"left"}, Strings("left"))
	assert.Equal(t, []string{"12"}, Strings(int64(12)))
	assert.Equal(t, []string{"1", "5"}, Strings(map[int64]int{5: 4, 1: 9}))

	assert.False(t, Truthy(""))
	assert.False(t, Truthy([]string{}))
	assert.False(t, Truthy(int64(0)))
	assert.True(t, Truthy(0.5))
	assert.True(t, Truthy([]string{"x"}))
}

func TestIDSetKeepsInsertionOrder(t *testing.T) {
	s := IDSetOf(5, 3, 5, 9, 3)
	assert.Equal(t, []int64{5, 3, 9}, s.IDs())
	assert.Equal(t, 3, s.Len())

	other := IDSetOf(9, 1, 5)
	assert.Equal(t, []int64{5, 9}, s.Intersect(other).IDs())
	assert.Equal(t, []int64{5, 3, 9, 1}, s.Union(other).IDs())

	var nilSet *IDSet
	assert.False(t, nilSet.Has(1))
	assert.Zero(t, nilSet.Len())
}

func TestQueryErrorCarriesGuidance(t *testing.T) {
	err := NewQueryError(UnknownAttribute, "Attribute %s is not recognized", "colour")
	assert.True(t, errors.Is(err, ErrInvalidQuery))
	assert.Contains(t, err.Error(), "colour")
	assert.Contains(t, err.Error(), "wrap your query in double quotes")

	var qe *QueryError
	require.True(t, errors.As(error(err), &qe))
	assert.Equal(t, "unknown-attribute", qe.Kind.String())
}

func TestMotifErrorUnwraps(t *testing.T) {
	err := NewMotifError("Node %s already exists", "a")
	assert.ErrorIs(t, err, ErrInvalidMotif)
	assert.Equal(t, "Node a already exists", err.Error())
}
