package qpix

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFIFO_WriteReadOrder(t *testing.T) {
	f := NewFIFO(4)
	f.Write(NewDataByte(0, 0, 1, 1))
	f.Write(NewDataByte(0, 0, 2, 2))

	b, ok := f.Read()
	assert.True(t, ok)
	assert.Equal(t, uint32(1), *b.Timestamp)
	assert.Equal(t, 1, f.Len())
}

func TestFIFO_OverflowLatchesPastMaxDepth(t *testing.T) {
	f := NewFIFO(2)
	for i := 0; i < 3; i++ {
		f.Write(NewDataByte(0, 0, uint32(i), 1))
	}

	assert.True(t, f.Overflow())
	assert.Equal(t, 3, f.Len())
	assert.Equal(t, 3, f.Peak())
}

func TestFIFO_ReadEmptyReturnsNotOK(t *testing.T) {
	f := NewFIFO(4)
	_, ok := f.Read()
	assert.False(t, ok)
}

func TestDAQFIFO_ClassifiesByWordType(t *testing.T) {
	f := NewDAQFIFO()
	tick := uint32(5)
	f.Write(DAQEntry{WordType: Data})
	f.Write(DAQEntry{WordType: RegReq})
	f.Write(DAQEntry{WordType: EvtEnd, SourceTick: &tick, DAQTick: 10})

	assert.Equal(t, 1, f.DataWords())
	assert.Equal(t, 1, f.ReqWords())
	assert.Equal(t, 1, f.EndWords())
	assert.Len(t, f.EVTEnds(), 1)
	assert.Equal(t, uint32(5), f.EVTEnds()[0].SourceTick)
}
