package timeline

import "fmt"

// Kind identifies the command-type family of a block and of the events
// compiled from it.
type Kind string

const (
	KindHeadsUp   Kind = "HeadsUpHand"
	KindMultiway  Kind = "MultiwayOverlay"
	KindBlindsUp  Kind = "BlindsLevelUp"
	KindBreakSkip Kind = "BreakSkip"
)

// kindAliases maps the command-type strings seen in source rows (current
// and historical sheet revisions) to canonical kinds.
var kindAliases = map[string]Kind{
	"headsuphand":     KindHeadsUp,
	"heads_up_hand":   KindHeadsUp,
	"gto-w":           KindHeadsUp,
	"multiwayoverlay": KindMultiway,
	"mysteryhands":    KindMultiway,
	"blindslevelup":   KindBlindsUp,
	"blindsup":        KindBlindsUp,
	"breakskip":       KindBreakSkip,
	"break_skip":      KindBreakSkip,
}

// Row is a canonical input row after ingestion. Rows are ephemeral: they
// exist only for the duration of one compilation pass.
type Row struct {
	CommandType string
	BlockID     string // "Hand" column in the source
	Seat        string
	Start       string // Time1 / action start
	End         string // Time2 / action end
	Action      string
	Text1       string
	Text2       string
	Text3       string
	Value1      string
	Value2      string
	Value3      string
	Deleted     bool
}

// BlockKey identifies a block: all rows sharing the same block-id and
// command-type belong to it.
type BlockKey struct {
	BlockID     string
	CommandType string
}

func (k BlockKey) String() string {
	return k.BlockID + "_" + k.CommandType
}

// Block is an ordered group of rows sharing a BlockKey. Deleted is true
// if any constituent row carried the delete flag.
type Block struct {
	Key     BlockKey
	Rows    []Row
	Deleted bool
}

// EventKey is the stable identity of a compiled event. It is a pure
// function of (block-id, kind, intra-block emit index), so re-polling
// unchanged rows yields the same keys and does not re-arm executed work.
type EventKey struct {
	BlockID string
	Kind    Kind
	Index   int
}

func (k EventKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.BlockID, k.Kind, k.Index)
}

// Block returns the block-level key this event belongs to.
func (k EventKey) Block() BlockKey {
	return BlockKey{BlockID: k.BlockID, CommandType: string(k.Kind)}
}

// Event is a single quantized, coded unit of scheduled work. Events are
// immutable once compiled; a changed source row produces a new Event.
type Event struct {
	Key   EventKey          `json:"key"`
	Time  float64           `json:"timeSec"` // quantized seconds-of-day
	Kind  Kind              `json:"kind"`
	Code  int               `json:"code"`
	Label string            `json:"label"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// KindOf resolves a raw command-type string to a canonical Kind.
// Returns false for unrecognized command types.
func KindOf(commandType string) (Kind, bool) {
	k, ok := kindAliases[lowerTrim(commandType)]
	return k, ok
}
