package timeline

import "strconv"

// defaultSeatTable converts a 0-based source seat index (dealer-relative,
// clockwise) to the 1-10 table seat label used on overlays. Presentation
// only; participant classification never depends on it.
var defaultSeatTable = map[int]int{
	0: 5, 1: 6, 2: 7, 3: 8, 4: 9, 5: 1, 6: 2, 7: 3, 8: 4, 9: 10,
}

// SeatMap maps source seat indexes to table seat labels.
type SeatMap map[int]int

// DefaultSeatMap returns a copy of the built-in seat mapping.
func DefaultSeatMap() SeatMap {
	m := make(SeatMap, len(defaultSeatTable))
	for k, v := range defaultSeatTable {
		m[k] = v
	}
	return m
}

// TableSeat resolves a raw seat string to its table seat label.
// Returns false for non-numeric or unmapped seats.
func (m SeatMap) TableSeat(seat string) (int, bool) {
	idx, err := strconv.Atoi(seat)
	if err != nil {
		return 0, false
	}
	label, ok := m[idx]
	return label, ok
}

// Participant is one side of a heads-up hand.
type Participant string

const (
	Hero    Participant = "Hero"
	Villain Participant = "Villain"
)

// SeatClassifier assigns a participant to a seat. The zero classifier
// (nil) falls back to first-seen ordering: the first distinct seat in a
// block is Hero, the second Villain.
type SeatClassifier func(seat string) (Participant, bool)
