package orm

import (
	"database/sql"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type habitat int

const (
	habitatUnknown habitat = iota
	habitatSavanna
	habitatJungle
)

type temperature float64

func TestAssignSameType(t *testing.T) {
	var s string
	require.NoError(t, assign(&s, "lion", nil))
	assert.Equal(t, "lion", s)

	var n int64 = 7
	require.NoError(t, assign(&n, nil, nil))
	assert.Zero(t, n, "nil resets to zero")
}

func TestAssignBuiltin(t *testing.T) {
	var s string
	require.NoError(t, assign(&s, []byte("zebra"), nil))
	assert.Equal(t, "zebra", s)
	require.NoError(t, assign(&s, int64(42), nil))
	assert.Equal(t, "42", s)

	var legs int16
	require.NoError(t, assign(&legs, int64(4), nil))
	assert.Equal(t, int16(4), legs)
	require.NoError(t, assign(&legs, "  2 ", nil))
	assert.Equal(t, int16(2), legs)

	var flag bool
	require.NoError(t, assign(&flag, int64(1), nil))
	assert.True(t, flag)
	require.NoError(t, assign(&flag, []byte("false"), nil))
	assert.False(t, flag)

	var weight float64
	require.NoError(t, assign(&weight, []byte("12.5"), nil))
	assert.Equal(t, 12.5, weight)
	require.NoError(t, assign(&weight, int64(3), nil))
	assert.Equal(t, 3.0, weight)

	var small float32
	require.NoError(t, assign(&small, 1.5, nil))
	assert.Equal(t, float32(1.5), small)

	var count uint16
	require.NoError(t, assign(&count, int64(65535), nil))
	assert.Equal(t, uint16(65535), count)

	var raw []byte
	src := []byte{1, 2, 3}
	require.NoError(t, assign(&raw, src, nil))
	src[0] = 9
	assert.Equal(t, []byte{9, 2, 3}, raw, "same type is assigned as is")
	require.NoError(t, assign(&raw, "abc", nil))
	assert.Equal(t, []byte("abc"), raw)
}

func TestAssignRange(t *testing.T) {
	var legs int8
	err := assign(&legs, int64(300), nil)
	assert.True(t, IsErrorType(err, ErrorTypeSerialization))

	var count uint8
	err = assign(&count, int64(-1), nil)
	assert.True(t, IsErrorType(err, ErrorTypeSerialization))

	var n int64
	err = assign(&n, 2.5, nil)
	assert.True(t, IsErrorType(err, ErrorTypeSerialization), "fractions are not integers")
	err = assign(&n, uint64(1<<63), nil)
	assert.True(t, IsErrorType(err, ErrorTypeSerialization))

	var when time.Time
	err = assign(&when, int64(1), nil)
	assert.True(t, IsErrorType(err, ErrorTypeSerialization))
}

func TestAssignUnknownTarget(t *testing.T) {
	var h temperature
	err := assign(&h, "hot", nil)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrorTypeSerialization))
	assert.Contains(t, err.Error(), "cannot convert string to orm.temperature")
}

func TestAssignScanner(t *testing.T) {
	var id uuid.UUID
	require.NoError(t, assign(&id, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", nil))
	assert.Equal(t, uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"), id)

	var name sql.NullString
	require.NoError(t, assign(&name, "kiwi", nil))
	assert.Equal(t, sql.NullString{String: "kiwi", Valid: true}, name)

	err := assign(&id, "not-a-uuid", nil)
	assert.True(t, IsErrorType(err, ErrorTypeSerialization))
}

func TestAssignPointer(t *testing.T) {
	var badge *string
	require.NoError(t, assign(&badge, []byte("B-12"), nil))
	require.NotNil(t, badge)
	assert.Equal(t, "B-12", *badge)

	require.NoError(t, assign(&badge, nil, nil))
	assert.Nil(t, badge)

	var born *time.Time
	require.NoError(t, assign(&born, "2021-06-01", nil))
	require.NotNil(t, born)
	assert.Equal(t, 2021, born.Year())
}

func TestAssignTimeLayouts(t *testing.T) {
	tests := []string{
		"2021-06-01T10:30:00Z",
		"2021-06-01 10:30:00.123+02:00",
		"2021-06-01T10:30:00.5",
		"2021-06-01 10:30:00",
		"2021-06-01T10:30",
		"2021-06-01",
	}
	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			var when time.Time
			require.NoError(t, assign(&when, s, nil))
			assert.Equal(t, time.June, when.Month())
		})
	}

	var clock time.Time
	require.NoError(t, assign(&clock, []byte("10:30:00"), nil))
	assert.Equal(t, 10, clock.Hour())

	var when time.Time
	assert.Error(t, assign(&when, "June first", nil))
}

func TestAssignRegisteredConverter(t *testing.T) {
	reg := NewRegistry()
	RegisterConverter(reg, func(raw interface{}) (temperature, error) {
		s, ok := raw.(string)
		if !ok || !strings.HasSuffix(s, "C") {
			return 0, errors.New("expected celsius")
		}
		f, err := asFloat64(strings.TrimSuffix(s, "C"))
		return temperature(f), err
	})

	var temp temperature
	require.NoError(t, assign(&temp, "21.5C", reg))
	assert.Equal(t, temperature(21.5), temp)

	err := assign(&temp, "70F", reg)
	assert.True(t, IsErrorType(err, ErrorTypeSerialization))
	var typed Error
	require.True(t, errors.As(err, &typed))
	assert.EqualError(t, typed.Cause, "expected celsius")

	// a registered converter is not consulted when the type already matches
	require.NoError(t, assign(&temp, temperature(3), reg))
	assert.Equal(t, temperature(3), temp)

	// converters take precedence over the built-in rules
	RegisterConverter(reg, func(raw interface{}) (string, error) { return "converted", nil })
	var s string
	require.NoError(t, assign(&s, int64(1), reg))
	assert.Equal(t, "converted", s)
}

func TestAssignEnum(t *testing.T) {
	names := map[string]habitat{"savanna": habitatSavanna, "jungle": habitatJungle}

	var h habitat
	require.NoError(t, assignEnum(&h, "Jungle", names))
	assert.Equal(t, habitatJungle, h)

	require.NoError(t, assignEnum(&h, int64(1), names))
	assert.Equal(t, habitatSavanna, h)

	require.NoError(t, assignEnum(&h, []byte("2"), nil))
	assert.Equal(t, habitatJungle, h)

	require.NoError(t, assignEnum(&h, nil, names))
	assert.Equal(t, habitatUnknown, h)

	err := assignEnum(&h, "tundra", names)
	assert.True(t, IsErrorType(err, ErrorTypeSerialization))
}

func TestAssignEnumRange(t *testing.T) {
	type status uint8
	type level int16

	var s status
	require.NoError(t, assignEnum(&s, int64(255), nil))
	assert.Equal(t, status(255), s)
	assert.True(t, IsErrorType(assignEnum(&s, int64(256), nil), ErrorTypeSerialization))
	assert.True(t, IsErrorType(assignEnum(&s, int64(-1), nil), ErrorTypeSerialization))
	assert.Equal(t, status(255), s, "a rejected value leaves the destination alone")

	var l level
	require.NoError(t, assignEnum(&l, "-300", nil))
	assert.Equal(t, level(-300), l)
	assert.True(t, IsErrorType(assignEnum(&l, int64(40000), nil), ErrorTypeSerialization))

	var u uint64
	assert.True(t, IsErrorType(assignEnum(&u, int64(-5), nil), ErrorTypeSerialization))
}

func TestAssignFloatRange(t *testing.T) {
	var n int64
	require.NoError(t, assign(&n, float64(-1<<63), nil))
	assert.Equal(t, int64(math.MinInt64), n)

	for _, v := range []float64{1 << 63, 1e19, -1e19, math.Inf(1), math.NaN()} {
		assert.True(t, IsErrorType(assign(&n, v, nil), ErrorTypeSerialization), "%v", v)
	}
}
