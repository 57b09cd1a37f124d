package zarr

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Dtype is a NumPy typestr as persisted in the "dtype" field of .zarray:
// a byte order character ('<', '>' or '|'), a basic type character and the
// element size in bytes, optionally followed by datetime units such as "[ns]".
type Dtype struct {
	ByteOrder ByteOrder
	BasicType BasicType
	ByteSize  int
	Units     string
}

var (
	_ json.Unmarshaler = (*Dtype)(nil)
	_ json.Marshaler   = (*Dtype)(nil)
)

// ParseDtype decodes a typestr like "<f8", "|b1" or "<M8[ns]". Failures
// match ErrFormat.
func ParseDtype(s string) (Dtype, error) {
	var dt Dtype
	// python zarr once wrote HTML escaped byte orders
	raw := strings.NewReplacer("&lt;", "<", "&gt;", ">").Replace(s)
	if len(raw) < 3 {
		return dt, fmt.Errorf("%w: dtype %q is too short", ErrFormat, s)
	}

	var err error
	if dt.ByteOrder, err = ParseByteOrder(rune(raw[0])); err != nil {
		return dt, fmt.Errorf("%w: dtype %q: %s", ErrFormat, s, err)
	}
	if dt.BasicType, err = ParseBasicType(rune(raw[1])); err != nil {
		return dt, fmt.Errorf("%w: dtype %q: %s", ErrFormat, s, err)
	}

	size, units, hasUnits := strings.Cut(raw[2:], "[")
	n, err := strconv.Atoi(size)
	if err != nil || n <= 0 {
		return dt, fmt.Errorf("%w: dtype %q has invalid size %q", ErrFormat, s, size)
	}
	dt.ByteSize = n
	if hasUnits {
		if !strings.HasSuffix(units, "]") {
			return dt, fmt.Errorf("%w: dtype %q has unterminated units", ErrFormat, s)
		}
		dt.Units = "[" + units
	}
	return dt, nil
}

func (dt Dtype) String() string {
	return fmt.Sprintf("%c%c%d%s", dt.ByteOrder, dt.BasicType, dt.ByteSize, dt.Units)
}

func (dt Dtype) MarshalJSON() ([]byte, error) {
	return json.Marshal(dt.String())
}

func (dt *Dtype) UnmarshalJSON(d []byte) error {
	var s string
	if err := json.Unmarshal(d, &s); err != nil {
		return fmt.Errorf("%w: dtype: %s", ErrFormat, err)
	}
	parsed, err := ParseDtype(s)
	if err != nil {
		return err
	}
	*dt = parsed
	return nil
}

// elemType maps a dtype onto the Go element type chunk buffers hold.
// Timedelta and datetime values are carried as their int64 tick counts.
func (dt Dtype) elemType() (reflect.Type, error) {
	var v interface{}
	switch dt.BasicType {
	case BTBoolean:
		if dt.ByteSize == 1 {
			v = false
		}
	case BTInteger:
		switch dt.ByteSize {
		case 1:
			v = int8(0)
		case 2:
			v = int16(0)
		case 4:
			v = int32(0)
		case 8:
			v = int64(0)
		}
	case BTUnsigned:
		switch dt.ByteSize {
		case 1:
			v = uint8(0)
		case 2:
			v = uint16(0)
		case 4:
			v = uint32(0)
		case 8:
			v = uint64(0)
		}
	case BTFloatingPoint:
		switch dt.ByteSize {
		case 4:
			v = float32(0)
		case 8:
			v = float64(0)
		}
	case BTComplex:
		switch dt.ByteSize {
		case 8:
			v = complex64(0)
		case 16:
			v = complex128(0)
		}
	case BTTimedelta, BTDatetime:
		if dt.ByteSize == 8 {
			v = int64(0)
		}
	}
	if v == nil {
		return nil, fmt.Errorf("%w: unsupported data type %q", ErrConfig, dt.String())
	}
	return reflect.TypeOf(v), nil
}

func (dt Dtype) binaryOrder() binary.ByteOrder {
	if dt.ByteOrder == BOLittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// fillValue converts a decoded fill_value into a value of the element type.
// nil yields the zero value.
func (dt Dtype) fillValue(fill interface{}) (reflect.Value, error) {
	t, err := dt.elemType()
	if err != nil {
		return reflect.Value{}, err
	}
	if fill == nil {
		return reflect.Zero(t), nil
	}

	switch x := fill.(type) {
	case string:
		var f float64
		switch x {
		case FillValueNaN:
			f = math.NaN()
		case FillValueInfinity:
			f = math.Inf(1)
		case FillValueNegativeInfinity:
			f = math.Inf(-1)
		default:
			return reflect.Value{}, fmt.Errorf("%w: unsupported fill value %q", ErrConfig, x)
		}
		if dt.BasicType != BTFloatingPoint {
			return reflect.Value{}, fmt.Errorf("%w: fill value %q requires a float data type", ErrConfig, x)
		}
		return reflect.ValueOf(f).Convert(t), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return dt.fillValue(i)
		}
		f, err := x.Float64()
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%w: fill value %q", ErrConfig, x.String())
		}
		return dt.fillValue(f)
	}

	v := reflect.ValueOf(fill)
	if t.Kind() == reflect.Bool {
		switch v.Kind() {
		case reflect.Bool:
			return v, nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return reflect.ValueOf(v.Int() != 0), nil
		case reflect.Float32, reflect.Float64:
			return reflect.ValueOf(v.Float() != 0), nil
		}
		return reflect.Value{}, fmt.Errorf("%w: fill value %v (%T) for bool data type", ErrConfig, fill, fill)
	}
	if t.Kind() == reflect.Complex64 || t.Kind() == reflect.Complex128 {
		var c complex128
		switch v.Kind() {
		case reflect.Bool:
			if v.Bool() {
				c = 1
			}
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			c = complex(float64(v.Int()), 0)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			c = complex(float64(v.Uint()), 0)
		case reflect.Float32, reflect.Float64:
			c = complex(v.Float(), 0)
		case reflect.Complex64, reflect.Complex128:
			c = v.Complex()
		default:
			return reflect.Value{}, fmt.Errorf("%w: fill value %v (%T) for complex data type", ErrConfig, fill, fill)
		}
		return reflect.ValueOf(c).Convert(t), nil
	}
	if v.Kind() == reflect.Bool {
		if v.Bool() {
			return reflect.ValueOf(1).Convert(t), nil
		}
		return reflect.Zero(t), nil
	}
	if !v.Type().ConvertibleTo(t) || v.Kind() == reflect.String {
		return reflect.Value{}, fmt.Errorf("%w: fill value %v (%T) not convertible to %s", ErrConfig, fill, fill, t)
	}
	if !representable(v, t) {
		return reflect.Value{}, fmt.Errorf("%w: fill value %v is not representable as %s", ErrConfig, fill, dt.String())
	}
	return v.Convert(t), nil
}

// representable reports whether the number v converts to the numeric type t
// without wrapping, overflowing or dropping a fraction
func representable(v reflect.Value, t reflect.Type) bool {
	z := reflect.Zero(t)
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch v.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return !z.OverflowInt(v.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			return v.Uint() <= math.MaxInt64 && !z.OverflowInt(int64(v.Uint()))
		case reflect.Float32, reflect.Float64:
			f := v.Float()
			return f == math.Trunc(f) && f >= -(1<<63) && f < 1<<63 && !z.OverflowInt(int64(f))
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		switch v.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return v.Int() >= 0 && !z.OverflowUint(uint64(v.Int()))
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			return !z.OverflowUint(v.Uint())
		case reflect.Float32, reflect.Float64:
			f := v.Float()
			return f == math.Trunc(f) && f >= 0 && f < 1<<64 && !z.OverflowUint(uint64(f))
		}
	case reflect.Float32, reflect.Float64:
		if v.Kind() == reflect.Float32 || v.Kind() == reflect.Float64 {
			return !z.OverflowFloat(v.Float())
		}
		return true
	}
	return false
}

type ByteOrder rune

func ParseByteOrder(r rune) (ByteOrder, error) {
	o := ByteOrder(r)
	if _, ok := byteOrders[o]; !ok {
		return o, fmt.Errorf("unsupported byte order format: %q", r)
	}
	return o, nil
}

const (
	BONotRelevant  ByteOrder = '|'
	BOLittleEndian ByteOrder = '<'
	BOBigEndian    ByteOrder = '>'
)

var byteOrders = map[ByteOrder]struct{}{
	BONotRelevant:  {},
	BOLittleEndian: {},
	BOBigEndian:    {},
}

type BasicType rune

func ParseBasicType(r rune) (BasicType, error) {
	t := BasicType(r)
	if _, ok := supportedBasicTypes[t]; !ok {
		return t, fmt.Errorf("unsupported basic type: %q", r)
	}
	return t, nil
}

func (bt BasicType) Human() string {
	return supportedBasicTypes[bt]
}

const (
	BTBoolean       BasicType = 'b'
	BTInteger       BasicType = 'i'
	BTUnsigned      BasicType = 'u'
	BTFloatingPoint BasicType = 'f'
	BTComplex       BasicType = 'c'
	BTTimedelta     BasicType = 'm'
	BTDatetime      BasicType = 'M'
	BTString        BasicType = 'S'
	BTUnicode       BasicType = 'U'
	BTOther         BasicType = 'V'
)

var supportedBasicTypes = map[BasicType]string{
	BTBoolean:       "bool",
	BTInteger:       "int",
	BTUnsigned:      "uint",
	BTFloatingPoint: "float",
	BTComplex:       "complex",
	BTTimedelta:     "timeDelta",
	BTDatetime:      "dateTime",
	BTString:        "string",
	BTUnicode:       "unicode",
	BTOther:         "other",
}

// DataType names an element type without byte order, e.g. "i4" or "f8"
type DataType string

const (
	Bool       DataType = "b1"
	Int8       DataType = "i1"
	Int16      DataType = "i2"
	Int32      DataType = "i4"
	Int64      DataType = "i8"
	Uint8      DataType = "u1"
	Uint16     DataType = "u2"
	Uint32     DataType = "u4"
	Uint64     DataType = "u8"
	Float32    DataType = "f4"
	Float64    DataType = "f8"
	Complex64  DataType = "c8"
	Complex128 DataType = "c16"
)

// Dtype combines a data type with a byte order. Single byte types always get
// BONotRelevant.
func (t DataType) Dtype(bo ByteOrder) (Dtype, error) {
	dt, err := ParseDtype(string(BOBigEndian) + string(t))
	if err != nil {
		return dt, fmt.Errorf("%w: data type %q: %s", ErrConfig, string(t), err)
	}
	if _, err := dt.elemType(); err != nil {
		return dt, err
	}
	switch {
	case dt.ByteSize == 1:
		dt.ByteOrder = BONotRelevant
	case bo == 0 || bo == BONotRelevant:
		dt.ByteOrder = BOBigEndian
	default:
		if _, ok := byteOrders[bo]; !ok {
			return dt, fmt.Errorf("%w: unsupported byte order %q", ErrConfig, rune(bo))
		}
		dt.ByteOrder = bo
	}
	return dt, nil
}
