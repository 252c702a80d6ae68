package encoding

import (
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/amqp10/go-amqp/internal/buffer"
)

// Marshaler is implemented by every composite and wrapper type in this
// package and in internal/frames.
type Marshaler interface {
	Marshal(*buffer.Buffer) error
}

// Marshal encodes i into wr using format-code dispatch on i's concrete type.
func Marshal(wr *buffer.Buffer, i interface{}) error {
	switch t := i.(type) {
	case nil:
		wr.AppendByte(byte(TypeCodeNull))
	case bool:
		if t {
			wr.AppendByte(byte(TypeCodeBoolTrue))
		} else {
			wr.AppendByte(byte(TypeCodeBoolFalse))
		}
	case *bool:
		return Marshal(wr, *t)
	case uint8:
		wr.AppendByte(byte(TypeCodeUbyte))
		wr.AppendByte(t)
	case *uint8:
		return Marshal(wr, *t)
	case uint16:
		wr.AppendByte(byte(TypeCodeUshort))
		wr.AppendUint16(t)
	case *uint16:
		return Marshal(wr, *t)
	case uint32:
		writeUint32(wr, t)
	case *uint32:
		if t == nil {
			wr.AppendByte(byte(TypeCodeNull))
			return nil
		}
		return Marshal(wr, *t)
	case uint64:
		writeUint64(wr, t)
	case *uint64:
		return Marshal(wr, *t)
	case uint:
		writeUint64(wr, uint64(t))
	case int8:
		wr.AppendByte(byte(TypeCodeByte))
		wr.AppendByte(uint8(t))
	case *int8:
		return Marshal(wr, *t)
	case int16:
		wr.AppendByte(byte(TypeCodeShort))
		wr.AppendUint16(uint16(t))
	case *int16:
		return Marshal(wr, *t)
	case int32:
		writeInt32(wr, t)
	case *int32:
		return Marshal(wr, *t)
	case int64:
		writeInt64(wr, t)
	case *int64:
		return Marshal(wr, *t)
	case int:
		writeInt64(wr, int64(t))
	case float32:
		wr.AppendByte(byte(TypeCodeFloat))
		wr.AppendUint32(math.Float32bits(t))
	case float64:
		wr.AppendByte(byte(TypeCodeDouble))
		wr.AppendUint64(math.Float64bits(t))
	case string:
		return writeString(wr, t)
	case *string:
		return Marshal(wr, *t)
	case []byte:
		return WriteBinary(wr, t)
	case *[]byte:
		return Marshal(wr, *t)
	case time.Time:
		writeTimestamp(wr, t)
	case *time.Time:
		return Marshal(wr, *t)
	case map[interface{}]interface{}:
		return WriteMap(wr, t)
	case map[string]interface{}:
		return WriteMap(wr, t)
	case map[Symbol]interface{}:
		return WriteMap(wr, t)
	case Annotations:
		return WriteMap(wr, t)
	case Filter:
		return WriteMap(wr, t)
	case Unsettled:
		return WriteMap(wr, t)
	case []int32:
		return ArrayInt32(t).Marshal(wr)
	case []uint32:
		return ArrayUint32(t).Marshal(wr)
	case []string:
		return ArrayString(t).Marshal(wr)
	case []Symbol:
		return ArraySymbol(t).Marshal(wr)
	case []interface{}:
		return List(t).Marshal(wr)
	case Marshaler:
		return t.Marshal(wr)
	default:
		return errors.Errorf("marshal not implemented for %T", i)
	}
	return nil
}

func writeInt32(wr *buffer.Buffer, n int32) {
	if n < 128 && n >= -128 {
		wr.AppendByte(byte(TypeCodeSmallint))
		wr.AppendByte(byte(n))
		return
	}
	wr.AppendByte(byte(TypeCodeInt))
	wr.AppendUint32(uint32(n))
}

func writeInt64(wr *buffer.Buffer, n int64) {
	if n < 128 && n >= -128 {
		wr.AppendByte(byte(TypeCodeSmalllong))
		wr.AppendByte(byte(n))
		return
	}
	wr.AppendByte(byte(TypeCodeLong))
	wr.AppendUint64(uint64(n))
}

func writeUint32(wr *buffer.Buffer, n uint32) {
	switch {
	case n == 0:
		wr.AppendByte(byte(TypeCodeUint0))
	case n < 256:
		wr.AppendByte(byte(TypeCodeSmallUint))
		wr.AppendByte(byte(n))
	default:
		wr.AppendByte(byte(TypeCodeUint))
		wr.AppendUint32(n)
	}
}

func writeUint64(wr *buffer.Buffer, n uint64) {
	switch {
	case n == 0:
		wr.AppendByte(byte(TypeCodeUlong0))
	case n < 256:
		wr.AppendByte(byte(TypeCodeSmallUlong))
		wr.AppendByte(byte(n))
	default:
		wr.AppendByte(byte(TypeCodeUlong))
		wr.AppendUint64(n)
	}
}

func writeTimestamp(wr *buffer.Buffer, t time.Time) {
	wr.AppendByte(byte(TypeCodeTimestamp))
	ms := t.UnixNano() / int64(time.Millisecond)
	wr.AppendUint64(uint64(ms))
}

func writeString(wr *buffer.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return errInvalidUTF8
	}
	l := len(s)
	switch {
	case l < 256:
		wr.AppendByte(byte(TypeCodeStr8))
		wr.AppendByte(byte(l))
		wr.AppendString(s)
	case uint(l) < math.MaxUint32:
		wr.AppendByte(byte(TypeCodeStr32))
		wr.AppendUint32(uint32(l))
		wr.AppendString(s)
	default:
		return errors.New("encoding: string too long")
	}
	return nil
}

// WriteBinary encodes bin as a variable-width binary value.
func WriteBinary(wr *buffer.Buffer, bin []byte) error {
	l := len(bin)
	switch {
	case l < 256:
		wr.AppendByte(byte(TypeCodeVbin8))
		wr.AppendByte(byte(l))
		wr.Append(bin)
	case uint(l) < math.MaxUint32:
		wr.AppendByte(byte(TypeCodeVbin32))
		wr.AppendUint32(uint32(l))
		wr.Append(bin)
	default:
		return errors.New("encoding: binary too long")
	}
	return nil
}

// WriteDescriptor writes the `0x0, ulong-code` descriptor header used by
// composites that are identified numerically.
func WriteDescriptor(wr *buffer.Buffer, code AMQPType) {
	wr.AppendByte(0x0)
	wr.AppendByte(byte(TypeCodeSmallUlong))
	wr.AppendByte(byte(code))
}

// MarshalField is one positional field of a list-encoded composite.
type MarshalField struct {
	Value interface{}
	Omit  bool
}

// MarshalComposite writes a described-list composite: descriptor, then a
// list whose trailing omitted fields are trimmed (leading/interior
// omitted fields are kept as explicit nulls to preserve position).
func MarshalComposite(wr *buffer.Buffer, code AMQPType, fields ...[]MarshalField) error {
	var flat []MarshalField
	if len(fields) == 1 {
		flat = fields[0]
	}

	lastSetIdx := -1
	for i, f := range flat {
		if !f.Omit {
			lastSetIdx = i
		}
	}

	if lastSetIdx == -1 {
		wr.AppendByte(0x0)
		wr.AppendByte(byte(TypeCodeSmallUlong))
		wr.AppendByte(byte(code))
		wr.AppendByte(byte(TypeCodeList0))
		return nil
	}

	WriteDescriptor(wr, code)
	wr.AppendByte(byte(TypeCodeList32))

	sizeIdx := wr.Len()
	wr.Append([]byte{0, 0, 0, 0})
	preFieldLen := wr.Len()

	wr.AppendUint32(uint32(lastSetIdx + 1))

	for _, f := range flat[:lastSetIdx+1] {
		if f.Omit {
			wr.AppendByte(byte(TypeCodeNull))
			continue
		}
		if err := Marshal(wr, f.Value); err != nil {
			return err
		}
	}

	size := uint32(wr.Len() - preFieldLen)
	buf := wr.Bytes()
	putUint32(buf[sizeIdx:sizeIdx+4], size)
	return nil
}

func putUint32(b []byte, v uint32) {
	_ = b[3]
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// WriteMap encodes a map, dispatching on its concrete Go type since
// AMQP maps may have heterogeneous key types in the wire format.
func WriteMap(wr *buffer.Buffer, m interface{}) error {
	startIdx := wr.Len()
	wr.Append([]byte{byte(TypeCodeMap32), 0, 0, 0, 0, 0, 0, 0, 0})

	var pairs int
	var err error
	switch m := m.(type) {
	case map[interface{}]interface{}:
		pairs, err = writePairs(wr, len(m), func(yield func(k, v interface{}) error) error {
			for k, v := range m {
				if e := yield(k, v); e != nil {
					return e
				}
			}
			return nil
		})
	case map[string]interface{}:
		pairs, err = writePairs(wr, len(m), func(yield func(k, v interface{}) error) error {
			for k, v := range m {
				if e := yield(k, v); e != nil {
					return e
				}
			}
			return nil
		})
	case map[Symbol]interface{}:
		pairs, err = writePairs(wr, len(m), func(yield func(k, v interface{}) error) error {
			for k, v := range m {
				if e := yield(k, v); e != nil {
					return e
				}
			}
			return nil
		})
	case Annotations:
		pairs, err = writePairs(wr, len(m), func(yield func(k, v interface{}) error) error {
			for k, v := range m {
				if e := yield(k, v); e != nil {
					return e
				}
			}
			return nil
		})
	case Filter:
		pairs = len(m) * 2
		for k, v := range m {
			if e := Marshal(wr, k); e != nil {
				return e
			}
			if e := v.Marshal(wr); e != nil {
				return e
			}
		}
	case Unsettled:
		pairs, err = writePairs(wr, len(m), func(yield func(k, v interface{}) error) error {
			for k, v := range m {
				if e := yield(k, v); e != nil {
					return e
				}
			}
			return nil
		})
	default:
		return fmt.Errorf("encoding: unsupported map type %T", m)
	}
	if err != nil {
		return err
	}

	if uint(pairs) > math.MaxUint32-4 {
		return errors.New("encoding: map contains too many elements")
	}
	buf := wr.Bytes()[startIdx+1 : startIdx+9]
	length := wr.Len() - startIdx - 1 - 4
	putUint32(buf[:4], uint32(length))
	putUint32(buf[4:8], uint32(pairs))
	return nil
}

func writePairs(wr *buffer.Buffer, n int, each func(func(k, v interface{}) error) error) (int, error) {
	pairs := 0
	err := each(func(k, v interface{}) error {
		if err := Marshal(wr, k); err != nil {
			return err
		}
		if err := Marshal(wr, v); err != nil {
			return err
		}
		pairs += 2
		return nil
	})
	return pairs, err
}

var errInvalidUTF8 = errors.New("encoding: not a valid UTF-8 string")
