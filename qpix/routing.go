package qpix

/*------------------------------------------------------------------
 *
 * Purpose:	The three built-in DirMask assignment strategies.
 *
 * Description:	A routing strategy answers one question for every (row,
 *		col): which of its four links points "toward the DAQ" at
 *		wire-up time. ASICs with ManualRoute unset then dynamically
 *		override this with the arrival direction of every REGREQ
 *		they accept. These functions run during Array construction
 *		and again whenever Array.Route re-applies a topology.
 *
 *---------------------------------------------------------------*/

// RouteName is a pre-defined DirMask assignment strategy.
type RouteName string

const (
	RouteLeft  RouteName = "left"
	RouteSnake RouteName = "snake"
	RouteTrunk RouteName = "trunk"
)

// leftRouting: every ASIC points West, except column 0 (other than (0,0),
// which is directly DAQ-adjacent and so also points West), which points
// North. Every row's west edge daisy-chains into the row above until row 0
// carries everything west into the DAQ.
func leftRouting(row, col, cols int) Direction {
	if row == 0 {
		return West
	}
	if col == 0 {
		return North
	}
	return West
}

// snakeRouting: row 0 runs west, row 1 runs east with its east edge
// climbing north, row 2 runs west again with its west edge climbing north,
// and so on — a boustrophedon path that climbs each row at one end.
func snakeRouting(row, col, cols int) Direction {
	if row == 0 {
		return West
	}
	if row%2 == 0 {
		if col == 0 {
			return North
		}
		return West
	}
	if col == cols-1 {
		return North
	}
	return East
}

// trunkRouting: column pos is the vertical trunk running north to the DAQ;
// every other column routes horizontally into the trunk. The Array applies
// it directly (never transacted) and sets ManualRoute=true at every ASIC,
// since an addressed REGREQ configuration write can't reach every node.
func trunkRouting(row, col, pos int) Direction {
	switch {
	case col < pos:
		return East
	case col > pos:
		return West
	default:
		return North
	}
}

// ResolveRouting validates and dispatches one of the three named
// strategies, returning an InputError for anything else.
func ResolveRouting(name RouteName, trunkPos int, rows, cols int) (func(row, col int) Direction, error) {
	switch name {
	case RouteLeft:
		return func(row, col int) Direction { return leftRouting(row, col, cols) }, nil
	case RouteSnake:
		return func(row, col int) Direction { return snakeRouting(row, col, cols) }, nil
	case RouteTrunk:
		if trunkPos < 0 || trunkPos >= cols-1 {
			return nil, &InputError{Msg: "trunk routing position out of range"}
		}
		return func(row, col int) Direction { return trunkRouting(row, col, trunkPos) }, nil
	default:
		return nil, &InputError{Msg: "unknown routing strategy: " + string(name)}
	}
}
