package util

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ToFloat accepts the number shapes JSON decoding produces, plus numeric strings.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint16:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// ToInt truncates toward zero; ok is false for non-numeric or fractional input.
func ToInt(v any) (int, bool) {
	f, ok := ToFloat(v)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}

// ToUint16 clamps to 0..65535.
func ToUint16(v any) uint16 {
	f, _ := ToFloat(v)
	return ClampWord(f)
}

func ClampWord(f float64) uint16 {
	switch {
	case math.IsNaN(f) || f <= 0:
		return 0
	case f >= math.MaxUint16:
		return math.MaxUint16
	default:
		return uint16(math.Round(f))
	}
}

func BoolsToBinaryString(bits []bool) string {
	var s strings.Builder
	for _, b := range bits {
		if b {
			s.WriteString("1")
		} else {
			s.WriteString("0")
		}
	}
	return s.String()
}
