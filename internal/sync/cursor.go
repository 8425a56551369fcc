package sync

// Cursor marks where a backfill walk resumes. FromBlock is the next block to
// query; SeenLogIndices holds the log indices already projected at FromBlock,
// guarding the page boundary against double-projection when a range query
// re-covers that block.
type Cursor struct {
	FromBlock      uint64
	SeenLogIndices map[uint]struct{}
}

// NewCursor creates a cursor starting at the given block with an empty
// boundary guard
func NewCursor(fromBlock uint64) Cursor {
	return Cursor{
		FromBlock:      fromBlock,
		SeenLogIndices: make(map[uint]struct{}),
	}
}

// Seen reports whether a log index at FromBlock was already projected
func (c Cursor) Seen(logIndex uint) bool {
	_, ok := c.SeenLogIndices[logIndex]
	return ok
}
