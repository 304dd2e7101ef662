package qpix

/*------------------------------------------------------------------
 *
 * Purpose:	Fixed-width transaction unit exchanged between ASICs, and
 *		its on-wire duration accounting.
 *
 * Description:	The Endeavor framing protocol encodes a 64-bit frame where
 *		each "1" bit occupies nOneClocks source clocks, each "0"
 *		occupies nZerClocks, an inter-bit gap of nGapClocks separates
 *		the 63 bit boundaries, and a terminating nFinClocks closes
 *		the frame. transferTicks is computed once, at construction,
 *		from the popcount of the byte's defined fields.
 *
 *---------------------------------------------------------------*/

import (
	"math/bits"

	"github.com/rs/xid"
)

const (
	nZerClocks     = 8
	nOneClocks     = 24
	nGapClocks     = 16
	nFinClocks     = 40
	nFrameBits     = 64
	defaultXferTks = 1700
)

// Byte is a single simulated transaction unit traveling between neighbors.
type Byte struct {
	WordType WordType

	// Origin is nil for DAQ-sourced packets (REGREQ broadcasts issued by
	// the sink itself never carry a row/col of their own).
	OriginRow *int
	OriginCol *int

	// DATA fields.
	Timestamp   *uint32
	ChannelMask *uint16

	// REGREQ fields.
	DestRow   int
	DestCol   int
	Broadcast bool
	OpRead    bool
	OpWrite   bool
	ReqID     xid.ID

	// REGREQ/REGRESP payload.
	Config Config

	TransferTicks int
}

func originFields(row, col int) (*int, *int) {
	r, c := row, col
	return &r, &c
}

// NewDataByte builds a DATA word carrying tick and channelMask from ASIC
// (row, col).
func NewDataByte(row, col int, tick uint32, channelMask uint16) Byte {
	or, oc := originFields(row, col)
	b := Byte{
		WordType:    Data,
		OriginRow:   or,
		OriginCol:   oc,
		Timestamp:   &tick,
		ChannelMask: &channelMask,
	}
	b.TransferTicks = transferTicks(b)
	return b
}

// NewRegReqByte builds a REGREQ word. When broadcast is false, destRow/
// destCol name the single target ASIC; when true, the destination fields
// are ignored by receivers.
func NewRegReqByte(reqID xid.ID, broadcast bool, destRow, destCol int, opRead, opWrite bool, cfg Config) Byte {
	b := Byte{
		WordType:  RegReq,
		Broadcast: broadcast,
		DestRow:   destRow,
		DestCol:   destCol,
		OpRead:    opRead,
		OpWrite:   opWrite,
		ReqID:     reqID,
		Config:    cfg,
	}
	b.TransferTicks = transferTicks(b)
	return b
}

// NewRegRespByte builds a REGRESP word carrying cfg back from (row, col).
func NewRegRespByte(row, col int, cfg Config) Byte {
	or, oc := originFields(row, col)
	b := Byte{
		WordType:  RegResp,
		OriginRow: or,
		OriginCol: oc,
		Config:    cfg,
	}
	b.TransferTicks = transferTicks(b)
	return b
}

// NewEvtEndByte builds the single EVTEND word a node emits on leaving
// FINISH, echoing the request-id of the interrogate that triggered it and
// the tick at which that interrogate was received.
func NewEvtEndByte(row, col int, tick uint32, reqID xid.ID) Byte {
	or, oc := originFields(row, col)
	b := Byte{
		WordType:  EvtEnd,
		OriginRow: or,
		OriginCol: oc,
		Timestamp: &tick,
		ReqID:     reqID,
	}
	b.TransferTicks = transferTicks(b)
	return b
}

// transferTicks: only a fully-formed DATA word (timestamp
// and channel mask both present) gets the popcount-weighted duration;
// everything else — REGREQ, REGRESP, EVTEND, or a DATA word missing a
// field — takes the default.
func transferTicks(b Byte) int {
	if b.WordType != Data || b.Timestamp == nil || b.ChannelMask == nil {
		return defaultXferTks
	}

	popcount := bits.OnesCount32(*b.Timestamp) +
		bits.OnesCount16(*b.ChannelMask) +
		bits.OnesCount8(uint8(b.WordType))
	if b.OriginRow != nil {
		popcount += bits.OnesCount(uint(*b.OriginRow))
	}
	if b.OriginCol != nil {
		popcount += bits.OnesCount(uint(*b.OriginCol))
	}

	return popcount*(nOneClocks-nZerClocks) + nFrameBits*nZerClocks + (nFrameBits-1)*nGapClocks + nFinClocks
}
