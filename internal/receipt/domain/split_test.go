package domain

import (
	"encoding/json"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestSplitDetailsRoundTrip(t *testing.T) {
	stored := SplitDetailsJSON(map[string][]snowflake.ID{
		"0": {1234567890123456789, 42},
		"1": {42},
	})

	// Simulate the JSON column round trip.
	raw, err := json.Marshal(stored)
	require.NoError(t, err)
	var loaded datatypes.JSONMap
	require.NoError(t, json.Unmarshal(raw, &loaded))

	receipt := Receipt{SplitDetails: loaded}
	assignments, err := receipt.AssignmentsByPosition()
	require.NoError(t, err)

	assert.Equal(t, []snowflake.ID{42, 1234567890123456789}, assignments[0])
	assert.Equal(t, []snowflake.ID{42}, assignments[1])
}

func TestAssignmentsByPosition_RejectsBadKeys(t *testing.T) {
	receipt := Receipt{SplitDetails: datatypes.JSONMap{"pizza": []string{"1"}}}
	_, err := receipt.AssignmentsByPosition()
	assert.Error(t, err)

	receipt = Receipt{SplitDetails: datatypes.JSONMap{"-1": []string{"1"}}}
	_, err = receipt.AssignmentsByPosition()
	assert.Error(t, err)
}

func TestLineSubtotalRounds(t *testing.T) {
	assert.Equal(t, int64(1850), LineSubtotal(1850, 1))
	assert.Equal(t, int64(925), LineSubtotal(1850, 0.5))
	assert.Equal(t, int64(333), LineSubtotal(999, 1.0/3))
}
