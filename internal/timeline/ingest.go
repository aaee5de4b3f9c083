package timeline

import (
	"strconv"
	"strings"
)

// fieldAliases resolves historical and alternate field names from the
// sheet service to canonical Row fields. Earlier aliases win.
var fieldAliases = map[string][]string{
	"CommandType": {"CommandType", "command_type", "commandtype"},
	"BlockID":     {"Hand", "hand", "block_id"},
	"Seat":        {"Seat", "seat", "SeatIndex", "seat_index", "seatindex"},
	"Start":       {"Time1", "time1", "ActionStart", "action_start", "actionstart"},
	"End":         {"Time2", "time2", "ActionEnd", "action_end", "actionend"},
	"Action":      {"Action", "action"},
	"Text1":       {"Text1", "text1"},
	"Text2":       {"Text2", "text2"},
	"Text3":       {"Text3", "text3"},
	"Value1":      {"Value1", "value1"},
	"Value2":      {"Value2", "value2"},
	"Value3":      {"Value3", "value3"},
}

func lowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// coerce renders a raw JSON value as a trimmed string. Numbers keep their
// shortest representation so seat indexes and epoch stamps survive intact.
func coerce(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func isDeleteFlag(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		s := lowerTrim(t)
		return s == "true" || s == "1"
	case float64:
		return t == 1
	}
	return false
}

func pick(raw map[string]any, names []string) (any, bool) {
	for _, n := range names {
		if v, ok := raw[n]; ok {
			return v, true
		}
	}
	return nil, false
}

// normalizeRow maps one raw field-mapping onto a canonical Row.
func normalizeRow(raw map[string]any) Row {
	var r Row
	if v, ok := pick(raw, []string{"Delete", "delete"}); ok {
		r.Deleted = isDeleteFlag(v)
	}
	r.CommandType = coerceField(raw, "CommandType")
	r.BlockID = coerceField(raw, "BlockID")
	r.Seat = coerceField(raw, "Seat")
	r.Start = coerceField(raw, "Start")
	r.End = coerceField(raw, "End")
	r.Action = coerceField(raw, "Action")
	r.Text1 = coerceField(raw, "Text1")
	r.Text2 = coerceField(raw, "Text2")
	r.Text3 = coerceField(raw, "Text3")
	r.Value1 = coerceField(raw, "Value1")
	r.Value2 = coerceField(raw, "Value2")
	r.Value3 = coerceField(raw, "Value3")
	return r
}

func coerceField(raw map[string]any, field string) string {
	v, ok := pick(raw, fieldAliases[field])
	if !ok {
		return ""
	}
	return coerce(v)
}

// isEmptyRow reports whether a row carries nothing the compiler could use.
func isEmptyRow(r Row) bool {
	return r.CommandType == "" && r.Seat == "" && r.Start == "" &&
		r.End == "" && r.Action == "" && r.Text1 == "" && r.Text2 == "" &&
		r.Value1 == "" && r.Value2 == ""
}

// Ingest normalizes a batch of raw field-mappings into canonical rows.
// Continuation rows in the source sheets leave CommandType blank, so a
// blank command-type inherits the previous row's. Rows that still have no
// command-type afterwards are dropped; this is a permissive boundary, not
// an error.
func Ingest(raw []map[string]any) []Row {
	rows := make([]Row, 0, len(raw))
	lastCmd := ""
	lastBlock := ""
	for _, m := range raw {
		r := normalizeRow(m)
		if isEmptyRow(r) {
			continue
		}
		if r.CommandType == "" {
			r.CommandType = lastCmd
		} else {
			lastCmd = r.CommandType
			lastBlock = ""
		}
		if r.CommandType == "" {
			continue
		}
		// Block-id inherits alongside the command type so that
		// continuation rows stay in their block.
		if r.BlockID == "" {
			r.BlockID = lastBlock
		} else {
			lastBlock = r.BlockID
		}
		rows = append(rows, r)
	}
	return rows
}
