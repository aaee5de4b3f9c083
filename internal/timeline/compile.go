package timeline

import (
	"fmt"
	"sort"
	"strconv"
)

// Command codes sent to the control surface. The codes are fixed by the
// panel's page/button layout.
const (
	CodeHeroOpens        = 2  // hand starts, Hero acts first
	CodeVillainOpens     = 4  // hand starts, Villain acts first
	CodeHeroAfterVillain = 5  // Villain -> Hero
	CodeVillainNext      = 6  // Hero -> Villain or Villain -> Villain
	CodeHeroAfterHero    = 7  // Hero -> Hero
	CodeHeroEnds         = 8  // hand ends, last actor Hero
	CodeVillainEnds      = 17 // hand ends, last actor Villain
	CodeBlindsUp         = 20
	CodeBreakSkip        = 21
	CodeShuffle          = 22
	CodeFold             = 23
	CodeShowdown         = 24
)

// Multiway seat selectors.
const (
	seatShuffle  = -1
	seatShowdown = 99
)

// Warning reports a block (or row) the compiler skipped. Warnings never
// abort compilation; one malformed block must not block the rest.
type Warning struct {
	Block  BlockKey
	Reason string
}

func (w Warning) String() string {
	return w.Block.String() + ": " + w.Reason
}

// Compiler turns partitioned blocks into quantized, coded events. It is a
// pure, stateless transform: the dispatcher constructs one per refresh.
type Compiler struct {
	Step      float64 // quantization grid, seconds
	OffsetSec int     // daily-difference + source-time-offset correction
	Seats     SeatMap
	Classify  SeatClassifier // nil: first-seen seat is Hero, second Villain
}

// Compile converts every non-deleted block into events. Events carry
// stable keys of (block-id, kind, emit index). The result is unsorted;
// the dispatcher orders its published snapshot by time.
func (c *Compiler) Compile(blocks []Block) ([]Event, []Warning) {
	var events []Event
	var warns []Warning

	for _, b := range blocks {
		if b.Deleted {
			continue
		}
		kind, ok := KindOf(b.Key.CommandType)
		if !ok {
			warns = append(warns, Warning{Block: b.Key, Reason: "unrecognized command type"})
			continue
		}
		var evs []Event
		var ws []Warning
		switch kind {
		case KindHeadsUp:
			evs, ws = c.compileHeadsUp(b)
		case KindMultiway:
			evs, ws = c.compileMultiway(b)
		case KindBlindsUp:
			evs, ws = c.compileSingle(b, KindBlindsUp, CodeBlindsUp, "Blinds Up")
		case KindBreakSkip:
			evs, ws = c.compileSingle(b, KindBreakSkip, CodeBreakSkip, "Break Skip")
		}
		events = append(events, evs...)
		warns = append(warns, ws...)
	}
	return events, warns
}

type timedRow struct {
	sec float64
	row Row
}

// timedRows parses and quantizes every row's start time, dropping rows
// without a usable one, and returns them in ascending time order.
func (c *Compiler) timedRows(rows []Row) []timedRow {
	out := make([]timedRow, 0, len(rows))
	for _, r := range rows {
		sec := ParseDaySeconds(r.Start, c.OffsetSec, c.Step)
		if sec <= 0 {
			continue
		}
		out = append(out, timedRow{sec: sec, row: r})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].sec < out[j].sec })
	return out
}

// compileHeadsUp walks a two-participant hand as a transducer over the
// Hero/Villain action sequence, emitting one command per transition plus
// a closing command at the last row's end time.
func (c *Compiler) compileHeadsUp(b Block) ([]Event, []Warning) {
	rows := c.timedRows(b.Rows)
	if len(rows) == 0 {
		return nil, []Warning{{Block: b.Key, Reason: "no rows with a usable start time"}}
	}

	classify := c.Classify
	if classify == nil {
		classify = firstSeenClassifier(rows)
	}

	var events []Event
	idx := 0
	emit := func(sec float64, code int, label string, meta map[string]string) {
		events = append(events, Event{
			Key:   EventKey{BlockID: b.Key.BlockID, Kind: KindHeadsUp, Index: idx},
			Time:  sec,
			Kind:  KindHeadsUp,
			Code:  code,
			Label: label,
			Meta:  meta,
		})
		idx++
	}

	var prev Participant
	for i, tr := range rows {
		actor, ok := classify(tr.row.Seat)
		if !ok {
			actor = Hero
		}

		var code int
		switch {
		case i == 0 && actor == Hero:
			code = CodeHeroOpens
		case i == 0:
			code = CodeVillainOpens
		case actor == Hero && prev == Villain:
			code = CodeHeroAfterVillain
		case actor == Hero:
			code = CodeHeroAfterHero
		default:
			code = CodeVillainNext
		}

		meta := map[string]string{
			"seat":  tr.row.Seat,
			"actor": string(actor),
		}
		seatLabel := tr.row.Seat
		if n, ok := c.Seats.TableSeat(tr.row.Seat); ok {
			seatLabel = strconv.Itoa(n)
			meta["tableSeat"] = seatLabel
		}
		emit(tr.sec, code, headsUpLabel(actor, prev, i == 0, seatLabel), meta)
		prev = actor
	}

	// Closing command at the last action's end time. A missing end time
	// drops the close, not the hand.
	last := rows[len(rows)-1]
	endSec := ParseDaySeconds(last.row.End, c.OffsetSec, c.Step)
	if endSec > 0 {
		code := CodeHeroEnds
		if prev == Villain {
			code = CodeVillainEnds
		}
		emit(endSec, code, fmt.Sprintf("Hand End (%s)", prev), map[string]string{
			"actor": string(prev),
		})
	}
	return events, nil
}

// firstSeenClassifier builds the default Hero/Villain assignment from a
// block's own rows: first distinct seat is Hero, second Villain. Seats
// beyond the second fold into Hero, matching the two-participant model.
func firstSeenClassifier(rows []timedRow) SeatClassifier {
	heroSeat, villainSeat := "", ""
	for _, tr := range rows {
		s := tr.row.Seat
		if s == "" {
			continue
		}
		switch {
		case heroSeat == "" || s == heroSeat:
			heroSeat = s
		case villainSeat == "" || s == villainSeat:
			villainSeat = s
		}
		if heroSeat != "" && villainSeat != "" {
			break
		}
	}
	return func(seat string) (Participant, bool) {
		switch seat {
		case heroSeat:
			return Hero, true
		case villainSeat:
			return Villain, true
		}
		return Hero, false
	}
}

func headsUpLabel(actor, prev Participant, first bool, seatLabel string) string {
	prevTag := "S"
	if !first {
		prevTag = string(prev[0])
	}
	return fmt.Sprintf("%c_after_%s seat %s", actor[0], prevTag, seatLabel)
}

// compileMultiway emits one event per row: seat -1 opens the shuffle
// overlay, seats 0-9 fold that seat's overlay, seat 99 closes the hand.
// No transition logic; rows are independent of their neighbors.
func (c *Compiler) compileMultiway(b Block) ([]Event, []Warning) {
	rows := c.timedRows(b.Rows)
	if len(rows) == 0 {
		return nil, []Warning{{Block: b.Key, Reason: "no rows with a usable start time"}}
	}

	var events []Event
	var warns []Warning
	idx := 0
	for _, tr := range rows {
		seat, err := strconv.Atoi(tr.row.Seat)
		if err != nil {
			warns = append(warns, Warning{Block: b.Key, Reason: "non-numeric seat " + strconv.Quote(tr.row.Seat)})
			continue
		}

		var code int
		var label string
		meta := map[string]string{"seat": tr.row.Seat}
		switch {
		case seat == seatShuffle:
			code, label = CodeShuffle, "Shuffle"
		case seat >= 0 && seat <= 9:
			code = CodeFold
			seatLabel := tr.row.Seat
			if n, ok := c.Seats.TableSeat(tr.row.Seat); ok {
				seatLabel = strconv.Itoa(n)
				meta["tableSeat"] = seatLabel
			}
			label = "Fold seat " + seatLabel
		case seat == seatShowdown:
			code, label = CodeShowdown, "Showdown/End"
		default:
			warns = append(warns, Warning{Block: b.Key, Reason: "seat " + tr.row.Seat + " outside selector range"})
			continue
		}

		events = append(events, Event{
			Key:   EventKey{BlockID: b.Key.BlockID, Kind: KindMultiway, Index: idx},
			Time:  tr.sec,
			Kind:  KindMultiway,
			Code:  code,
			Label: label,
			Meta:  meta,
		})
		idx++
	}
	if len(events) == 0 {
		warns = append(warns, Warning{Block: b.Key, Reason: "no usable rows"})
	}
	return events, warns
}

// compileSingle handles the one-event block types (blinds level up,
// break skip): one command at the block's first start time.
func (c *Compiler) compileSingle(b Block, kind Kind, code int, label string) ([]Event, []Warning) {
	if len(b.Rows) == 0 {
		return nil, []Warning{{Block: b.Key, Reason: "empty block"}}
	}
	sec := ParseDaySeconds(b.Rows[0].Start, c.OffsetSec, c.Step)
	if sec <= 0 {
		return nil, []Warning{{Block: b.Key, Reason: "no usable start time"}}
	}
	return []Event{{
		Key:   EventKey{BlockID: b.Key.BlockID, Kind: kind, Index: 0},
		Time:  sec,
		Kind:  kind,
		Code:  code,
		Label: label,
	}}, nil
}
