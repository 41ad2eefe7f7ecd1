package templating

import (
	"encoding/json"
	"math"
	"strconv"
)

// toInt converts the numeric shapes template data arrives in (Go ints,
// float64 from decoded JSON, json.Number and numeric strings) to int.
// Anything else is 0.
func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint:
		return int(n)
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return int(n)
	case uint64:
		return int(n)
	case float32:
		return int(math.Trunc(float64(n)))
	case float64:
		return int(math.Trunc(n))
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		f, _ := n.Float64()
		return int(math.Trunc(f))
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}

// add returns a + b.
func add(a, b any) int {
	return toInt(a) + toInt(b)
}

// sub returns a - b.
func sub(a, b any) int {
	return toInt(a) - toInt(b)
}

// div returns a / b (integer division). Returns 0 if b is 0.
func div(a, b any) int {
	d := toInt(b)
	if d == 0 {
		return 0
	}
	return toInt(a) / d
}

// mult returns a * b.
func mult(a, b any) int {
	return toInt(a) * toInt(b)
}

func maxOf(a, b any) int {
	return max(toInt(a), toInt(b))
}

func minOf(a, b any) int {
	return min(toInt(a), toInt(b))
}

// mod returns a % b, or 0 if b is 0.
func mod(a, b any) int {
	d := toInt(b)
	if d == 0 {
		return 0
	}
	return toInt(a) % d
}

func inc(i any) int {
	return toInt(i) + 1
}

func dec(i any) int {
	return toInt(i) - 1
}
