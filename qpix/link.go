package qpix

// Link is one directional neighbor connection: a pair of busy-until
// timestamps, plus the identity of whatever sits on the other end. Links
// are stored as NodeID index pairs rather than cyclic pointers, so the
// whole mesh lives in one arena owned by the Array.
type Link struct {
	Connected   bool
	To          NodeID
	TxBusyUntil float64
	RxBusyUntil float64
}
