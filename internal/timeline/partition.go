package timeline

// Partition groups canonical rows into blocks keyed by (command-type,
// block-id) in first-seen order. Rows carrying the delete flag still
// participate in grouping; a block is deleted when any of its rows is
// flagged. Returns the ordered block list and the set of deleted keys.
func Partition(rows []Row) ([]Block, map[BlockKey]bool) {
	var order []BlockKey
	byKey := make(map[BlockKey]*Block)
	deleted := make(map[BlockKey]bool)

	for _, r := range rows {
		key := BlockKey{BlockID: r.BlockID, CommandType: r.CommandType}
		b, ok := byKey[key]
		if !ok {
			b = &Block{Key: key}
			byKey[key] = b
			order = append(order, key)
		}
		b.Rows = append(b.Rows, r)
		if r.Deleted {
			b.Deleted = true
			deleted[key] = true
		}
	}

	blocks := make([]Block, 0, len(order))
	for _, key := range order {
		blocks = append(blocks, *byKey[key])
	}
	return blocks, deleted
}
