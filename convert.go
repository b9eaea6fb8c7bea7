package orm

import (
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// timeLayouts are the text forms drivers use for date and time columns
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"15:04:05",
}

func conversionError(raw interface{}, target string, cause error) error {
	msg := fmt.Sprintf("cannot convert %T to %s", raw, target)
	if cause != nil {
		return NewErrorWithCause(ErrorTypeSerialization, msg, cause)
	}
	return NewError(ErrorTypeSerialization, msg)
}

// assign stores a raw column value into dst. A nil value resets dst to its
// zero value. Values that already have the target type are assigned as is;
// registered converters are tried before the built-in conversions.
func assign[V any](dst *V, raw interface{}, reg *Registry) error {
	if raw == nil {
		var zero V
		*dst = zero
		return nil
	}
	if v, ok := raw.(V); ok {
		*dst = v
		return nil
	}
	if reg != nil {
		if conv, ok := lookupConverter[V](reg); ok {
			v, err := conv(raw)
			if err != nil {
				return conversionError(raw, fmt.Sprintf("%T", *dst), err)
			}
			*dst = v
			return nil
		}
	}
	ok, err := convertBuiltin(dst, raw)
	if err != nil {
		return conversionError(raw, fmt.Sprintf("%T", *dst), err)
	}
	if !ok {
		return conversionError(raw, fmt.Sprintf("%T", *dst), nil)
	}
	return nil
}

// convertBuiltin handles the common driver value conversions. It reports
// false when it has no rule for the target type.
func convertBuiltin(dst interface{}, raw interface{}) (bool, error) {
	if s, ok := dst.(sql.Scanner); ok {
		return true, s.Scan(raw)
	}

	var err error
	switch d := dst.(type) {
	case *string:
		*d, err = asString(raw)
	case *[]byte:
		switch v := raw.(type) {
		case []byte:
			*d = append([]byte(nil), v...)
		case string:
			*d = []byte(v)
		default:
			return false, nil
		}
	case *bool:
		*d, err = asBool(raw)
	case *int:
		err = setInt(d, raw, math.MinInt, math.MaxInt)
	case *int8:
		err = setInt(d, raw, math.MinInt8, math.MaxInt8)
	case *int16:
		err = setInt(d, raw, math.MinInt16, math.MaxInt16)
	case *int32:
		err = setInt(d, raw, math.MinInt32, math.MaxInt32)
	case *int64:
		*d, err = asInt64(raw)
	case *uint:
		err = setUint(d, raw, math.MaxUint)
	case *uint8:
		err = setUint(d, raw, math.MaxUint8)
	case *uint16:
		err = setUint(d, raw, math.MaxUint16)
	case *uint32:
		err = setUint(d, raw, math.MaxUint32)
	case *uint64:
		err = setUint(d, raw, math.MaxUint64)
	case *float32:
		var f float64
		f, err = asFloat64(raw)
		*d = float32(f)
	case *float64:
		*d, err = asFloat64(raw)
	case *time.Time:
		*d, err = asTime(raw)
	case **string:
		return setPointer(d, raw)
	case **int:
		return setPointer(d, raw)
	case **int64:
		return setPointer(d, raw)
	case **float64:
		return setPointer(d, raw)
	case **bool:
		return setPointer(d, raw)
	case **time.Time:
		return setPointer(d, raw)
	default:
		return false, nil
	}
	return true, err
}

// setPointer converts into a fresh value and stores its address
func setPointer[V any](dst **V, raw interface{}) (bool, error) {
	if v, ok := raw.(V); ok {
		*dst = &v
		return true, nil
	}
	v := new(V)
	ok, err := convertBuiltin(v, raw)
	if ok && err == nil {
		*dst = v
	}
	return ok, err
}

type signed interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64
}

type unsigned interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

func setInt[I signed](dst *I, raw interface{}, min, max int64) error {
	n, err := asInt64(raw)
	if err != nil {
		return err
	}
	if n < min || n > max {
		return fmt.Errorf("value %d out of range", n)
	}
	*dst = I(n)
	return nil
}

func setUint[U unsigned](dst *U, raw interface{}, max uint64) error {
	var n uint64
	switch v := raw.(type) {
	case uint64:
		n = v
	default:
		i, err := asInt64(raw)
		if err != nil {
			return err
		}
		if i < 0 {
			return fmt.Errorf("value %d is negative", i)
		}
		n = uint64(i)
	}
	if n > max {
		return fmt.Errorf("value %d out of range", n)
	}
	*dst = U(n)
	return nil
}

func asString(raw interface{}) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return v.String(), nil
	case int64, int, int32, float64, float32, bool, uint64:
		return fmt.Sprint(v), nil
	}
	return "", fmt.Errorf("unsupported source type %T", raw)
}

func asInt64(raw interface{}) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("value %d out of range", v)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("value %v is not integral", v)
		}
		if v >= 1<<63 || v < -1<<63 {
			return 0, fmt.Errorf("value %v out of range", v)
		}
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(v)), 10, 64)
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	}
	return 0, fmt.Errorf("unsupported source type %T", raw)
}

func asFloat64(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	}
	n, err := asInt64(raw)
	return float64(n), err
}

func asBool(raw interface{}) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case []byte:
		return strconv.ParseBool(strings.TrimSpace(string(v)))
	case string:
		return strconv.ParseBool(strings.TrimSpace(v))
	}
	n, err := asInt64(raw)
	return n != 0, err
}

func asTime(raw interface{}) (time.Time, error) {
	var s string
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case []byte:
		s = string(v)
	case string:
		s = v
	default:
		return time.Time{}, fmt.Errorf("unsupported source type %T", raw)
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// Integer is the constraint for enum types stored as numbers
type Integer interface {
	signed | unsigned
}

// assignEnum converts a raw value to an integer enum. Text values are looked
// up in names first, then parsed as numbers.
func assignEnum[E Integer](dst *E, raw interface{}, names map[string]E) error {
	if raw == nil {
		*dst = 0
		return nil
	}
	if v, ok := raw.(E); ok {
		*dst = v
		return nil
	}
	var text string
	switch v := raw.(type) {
	case string:
		text = v
	case []byte:
		text = string(v)
	}
	if text != "" && names != nil {
		for name, value := range names {
			if strings.EqualFold(name, strings.TrimSpace(text)) {
				*dst = value
				return nil
			}
		}
	}
	n, err := asInt64(raw)
	if err != nil {
		return conversionError(raw, fmt.Sprintf("%T", *dst), err)
	}
	e := E(n)
	if int64(e) != n || (n < 0) != (e < 0) {
		return conversionError(raw, fmt.Sprintf("%T", *dst), fmt.Errorf("value %d out of range", n))
	}
	*dst = e
	return nil
}
