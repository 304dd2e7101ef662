package qpix

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLeftRouting_OriginPointsWest(t *testing.T) {
	assert.Equal(t, West, leftRouting(0, 0, 4))
}

func TestLeftRouting_FirstColumnOtherRowsPointNorth(t *testing.T) {
	assert.Equal(t, North, leftRouting(2, 0, 4))
}

func TestLeftRouting_EverythingElsePointsWest(t *testing.T) {
	assert.Equal(t, West, leftRouting(2, 3, 4))
}

func TestSnakeRouting_OddRowsReverseDirection(t *testing.T) {
	assert.Equal(t, East, snakeRouting(1, 0, 4))
	assert.Equal(t, North, snakeRouting(1, 3, 4))
}

func TestSnakeRouting_EvenRowsClimbAtColumnZero(t *testing.T) {
	assert.Equal(t, North, snakeRouting(2, 0, 4))
	assert.Equal(t, West, snakeRouting(2, 3, 4))
}

func TestTrunkRouting_ColumnsFeedTowardPosition(t *testing.T) {
	assert.Equal(t, East, trunkRouting(1, 0, 2))
	assert.Equal(t, North, trunkRouting(1, 2, 2))
	assert.Equal(t, West, trunkRouting(1, 3, 2))
}

func TestResolveRouting_UnknownNameIsInputError(t *testing.T) {
	_, err := ResolveRouting("diagonal", 0, 4, 4)
	assert.Error(t, err)
	assert.IsType(t, &InputError{}, err)
}

func TestResolveRouting_TrunkOutOfRangeIsInputError(t *testing.T) {
	_, err := ResolveRouting(RouteTrunk, 9, 4, 4)
	assert.Error(t, err)
	assert.IsType(t, &InputError{}, err)
}

func TestResolveRouting_TrunkRejectsLastColumn(t *testing.T) {
	_, err := ResolveRouting(RouteTrunk, 3, 4, 4)
	assert.Error(t, err)
	assert.IsType(t, &InputError{}, err)
}
