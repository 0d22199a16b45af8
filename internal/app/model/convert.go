package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Convert coerces v, as received from a request or a database driver, into
// the canonical Go type for the field: int64, float64, bool, string or
// time.Time. nil and, for non-text kinds, the empty string convert to nil.
func (f Field) Convert(v any) (any, error) {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && s == "" && f.Kind != Char && f.Kind != Text {
		return nil, nil
	}

	switch f.Kind {
	case Auto, Integer, PositiveInteger, ForeignKey:
		n, err := toInt(v)
		if err != nil {
			return nil, fmt.Errorf("%q value must be an integer", fmt.Sprint(v))
		}
		return n, nil
	case Float:
		n, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("%q value must be a float", fmt.Sprint(v))
		}
		return n, nil
	case Boolean:
		b, err := toBool(v)
		if err != nil {
			return nil, fmt.Errorf("%q value must be either True or False", fmt.Sprint(v))
		}
		return b, nil
	case Char, Text:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	case DateTime:
		t, err := toTime(v)
		if err != nil {
			return nil, fmt.Errorf("%q value has an invalid date format", fmt.Sprint(v))
		}
		return t, nil
	}
	return nil, fmt.Errorf("field %s: unsupported kind %s", f.Name, f.Kind)
}

func toInt(v any) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint32:
		return int64(t), nil
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("not integral")
		}
		return int64(t), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}

func toFloat(v any) (float64, error) {
	var (
		f   float64
		err error
	)
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if err != nil {
		return 0, err
	}
	// JSON has no NaN or infinities.
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite float %v", f)
	}
	return f, nil
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case int64:
		return t != 0, nil
	case int:
		return t != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "t", "true", "1", "on":
			return true, nil
		case "f", "false", "0", "off":
			return false, nil
		}
	}
	return false, fmt.Errorf("unsupported value %v", v)
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("unsupported value %v", v)
}
