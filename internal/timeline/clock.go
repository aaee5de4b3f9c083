package timeline

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// QuantStep is the default scheduling grid in seconds. Source timestamps
// and timecode readings are snapped to this grid so the tick loop
// compares a finite set of values.
const QuantStep = 0.2

// Quantize snaps sec to the nearest multiple of step using round-half-up
// (ties round away from zero; all inputs here are non-negative).
// Quantizing an already-quantized value returns it unchanged.
func Quantize(sec, step float64) float64 {
	if step <= 0 {
		return sec
	}
	// Multiplying by the reciprocal keeps exact half-grid inputs (10.5 on
	// a 0.2 grid) on the tie instead of drifting below it.
	n := math.Floor(sec*(1.0/step) + 0.5)
	// Trim float residue so repeated quantization is a fixed point.
	return math.Round(n*step*1e6) / 1e6
}

// timestamp layouts accepted from the sheet service, in trial order.
var clockLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05.999999",
	"2006/01/02 15:04:05",
	"2006.01.02 15:04:05.999999",
	"2006.01.02 15:04:05",
	"2006-01-02T15:04:05.999999Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.999999Z",
	"2006-01-02T15:04:05Z",
}

func daySeconds(t time.Time) float64 {
	return float64(t.Hour()*3600+t.Minute()*60+t.Second()) +
		float64(t.Nanosecond())/1e9
}

// ParseDaySeconds converts a source timestamp into quantized
// seconds-of-day, shifted by offsetSec (the daily-difference correction).
// Accepts the datetime layouts above or a numeric epoch (seconds or
// milliseconds). Returns 0 on any parse failure; callers treat 0 as
// "no usable time".
func ParseDaySeconds(ts string, offsetSec int, step float64) float64 {
	s := strings.TrimSpace(ts)
	if s == "" {
		return 0
	}

	var parsed time.Time
	ok := false
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			parsed = t
			ok = true
			break
		}
	}
	if !ok {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			if v > 1e12 { // looks like milliseconds
				v /= 1000
			}
			parsed = time.Unix(int64(v), int64((v-math.Floor(v))*1e9))
			ok = true
		}
	}
	if !ok {
		return 0
	}

	sec := daySeconds(parsed) + float64(offsetSec)
	sec = Quantize(sec, step)
	if sec < 0 {
		return 0
	}
	return sec
}

// LocalDaySeconds returns the wall-clock seconds-of-day, shifted by
// offsetSec and quantized. Used as the fallback clock when the replay
// timecode is unavailable.
func LocalDaySeconds(now time.Time, offsetSec int, step float64) float64 {
	sec := daySeconds(now) + float64(offsetSec)
	sec = Quantize(sec, step)
	if sec < 0 {
		return 0
	}
	return sec
}

// FormatDaySeconds renders seconds-of-day as HH:MM:SS.s for logs and the
// UI snapshot.
func FormatDaySeconds(sec float64) string {
	sec = math.Mod(sec, 86400)
	if sec < 0 {
		sec += 86400
	}
	h := int(sec) / 3600
	m := (int(sec) % 3600) / 60
	s := sec - float64(h*3600+m*60)
	return pad2(h) + ":" + pad2(m) + ":" + padSec(s)
}

func pad2(v int) string {
	if v < 10 {
		return "0" + strconv.Itoa(v)
	}
	return strconv.Itoa(v)
}

func padSec(s float64) string {
	out := strconv.FormatFloat(s, 'f', 1, 64)
	if s < 10 {
		out = "0" + out
	}
	return out
}
