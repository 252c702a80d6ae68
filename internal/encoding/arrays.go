package encoding

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/amqp10/go-amqp/internal/buffer"
)

// List is an AMQP list: an ordered, possibly heterogeneous sequence. Used
// for the list-encoded composites' on-the-wire body as well as any
// application value that happens to be a bare list.
type List []interface{}

func (l List) Marshal(wr *buffer.Buffer) error {
	if len(l) == 0 {
		wr.AppendByte(byte(TypeCodeList0))
		return nil
	}

	wr.AppendByte(byte(TypeCodeList32))
	sizeIdx := wr.Len()
	wr.Append([]byte{0, 0, 0, 0})
	preLen := wr.Len()
	wr.AppendUint32(uint32(len(l)))

	for _, v := range l {
		if err := Marshal(wr, v); err != nil {
			return err
		}
	}

	size := uint32(wr.Len() - preLen)
	putUint32(wr.Bytes()[sizeIdx:sizeIdx+4], size)
	return nil
}

func (l *List) Unmarshal(r *buffer.Buffer) error {
	type_, err := ReadType(r)
	if err != nil {
		return err
	}

	var count uint32
	switch type_ {
	case TypeCodeList0:
		*l = nil
		return nil
	case TypeCodeList8:
		if _, err := r.ReadByte(); err != nil {
			return err
		}
		c, err := r.ReadByte()
		if err != nil {
			return err
		}
		count = uint32(c)
	case TypeCodeList32:
		if _, ok := r.Next(4); !ok {
			return errUnexpectedEOF
		}
		buf, ok := r.Next(4)
		if !ok {
			return errUnexpectedEOF
		}
		count = be32(buf)
	default:
		return errors.Errorf("encoding: invalid format code %#02x for list", byte(type_))
	}

	out := make(List, count)
	for i := uint32(0); i < count; i++ {
		v, err := readAny(r)
		if err != nil {
			return err
		}
		out[i] = v
	}
	*l = out
	return nil
}

// InvalidArrayElement is returned when an array element does not match
// the array's single declared element format code.
type InvalidArrayElement struct {
	Wanted AMQPType
	Got    AMQPType
}

func (e InvalidArrayElement) Error() string {
	return fmt.Sprintf("encoding: array element format code %#02x does not match array format code %#02x", byte(e.Got), byte(e.Wanted))
}

func writeArrayHeader(wr *buffer.Buffer, count int, elemCode AMQPType, writeElems func(*buffer.Buffer) error) error {
	wr.AppendByte(byte(TypeCodeArray32))
	sizeIdx := wr.Len()
	wr.Append([]byte{0, 0, 0, 0})
	preLen := wr.Len()
	wr.AppendUint32(uint32(count))
	wr.AppendByte(byte(elemCode))

	if err := writeElems(wr); err != nil {
		return err
	}

	size := uint32(wr.Len() - preLen)
	putUint32(wr.Bytes()[sizeIdx:sizeIdx+4], size)
	return nil
}

func readArrayHeader(r *buffer.Buffer) (count uint32, elemCode AMQPType, err error) {
	type_, err := ReadType(r)
	if err != nil {
		return 0, 0, err
	}
	switch type_ {
	case TypeCodeArray8:
		if _, err := r.ReadByte(); err != nil { // size
			return 0, 0, err
		}
		c, err := r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		count = uint32(c)
	case TypeCodeArray32:
		if _, ok := r.Next(4); !ok { // size
			return 0, 0, errUnexpectedEOF
		}
		buf, ok := r.Next(4)
		if !ok {
			return 0, 0, errUnexpectedEOF
		}
		count = be32(buf)
	default:
		return 0, 0, errors.Errorf("encoding: invalid format code %#02x for array", byte(type_))
	}
	code, err := ReadType(r)
	return count, code, err
}

// ArrayInt8 is an AMQP array of byte.
type ArrayInt8 []int8

func (a ArrayInt8) Marshal(wr *buffer.Buffer) error {
	return writeArrayHeader(wr, len(a), TypeCodeByte, func(wr *buffer.Buffer) error {
		for _, v := range a {
			wr.AppendByte(uint8(v))
		}
		return nil
	})
}

func (a *ArrayInt8) Unmarshal(r *buffer.Buffer) error {
	count, code, err := readArrayHeader(r)
	if err != nil {
		return err
	}
	if code != TypeCodeByte {
		return InvalidArrayElement{Wanted: TypeCodeByte, Got: code}
	}
	out := make(ArrayInt8, count)
	for i := range out {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		out[i] = int8(b)
	}
	*a = out
	return nil
}

// ArrayUbyte is an AMQP array of ubyte.
type ArrayUbyte []uint8

func (a ArrayUbyte) Marshal(wr *buffer.Buffer) error {
	return writeArrayHeader(wr, len(a), TypeCodeUbyte, func(wr *buffer.Buffer) error {
		wr.Append(a)
		return nil
	})
}

func (a *ArrayUbyte) Unmarshal(r *buffer.Buffer) error {
	count, code, err := readArrayHeader(r)
	if err != nil {
		return err
	}
	if code != TypeCodeUbyte {
		return InvalidArrayElement{Wanted: TypeCodeUbyte, Got: code}
	}
	buf, ok := r.Next(int64(count))
	if !ok {
		return errUnexpectedEOF
	}
	*a = append(ArrayUbyte(nil), buf...)
	return nil
}

// ArrayInt16 is an AMQP array of short.
type ArrayInt16 []int16

func (a ArrayInt16) Marshal(wr *buffer.Buffer) error {
	return writeArrayHeader(wr, len(a), TypeCodeShort, func(wr *buffer.Buffer) error {
		for _, v := range a {
			wr.AppendUint16(uint16(v))
		}
		return nil
	})
}

func (a *ArrayInt16) Unmarshal(r *buffer.Buffer) error {
	count, code, err := readArrayHeader(r)
	if err != nil {
		return err
	}
	if code != TypeCodeShort {
		return InvalidArrayElement{Wanted: TypeCodeShort, Got: code}
	}
	out := make(ArrayInt16, count)
	for i := range out {
		buf, ok := r.Next(2)
		if !ok {
			return errUnexpectedEOF
		}
		out[i] = int16(uint16(buf[0])<<8 | uint16(buf[1]))
	}
	*a = out
	return nil
}

// ArrayUint16 is an AMQP array of ushort.
type ArrayUint16 []uint16

func (a ArrayUint16) Marshal(wr *buffer.Buffer) error {
	return writeArrayHeader(wr, len(a), TypeCodeUshort, func(wr *buffer.Buffer) error {
		for _, v := range a {
			wr.AppendUint16(v)
		}
		return nil
	})
}

func (a *ArrayUint16) Unmarshal(r *buffer.Buffer) error {
	count, code, err := readArrayHeader(r)
	if err != nil {
		return err
	}
	if code != TypeCodeUshort {
		return InvalidArrayElement{Wanted: TypeCodeUshort, Got: code}
	}
	out := make(ArrayUint16, count)
	for i := range out {
		buf, ok := r.Next(2)
		if !ok {
			return errUnexpectedEOF
		}
		out[i] = uint16(buf[0])<<8 | uint16(buf[1])
	}
	*a = out
	return nil
}

// ArrayInt32 is an AMQP array of int, always written in its 4-byte form
// (the single-byte smallint form doesn't apply: every element shares the
// array's one format code).
type ArrayInt32 []int32

func (a ArrayInt32) Marshal(wr *buffer.Buffer) error {
	return writeArrayHeader(wr, len(a), TypeCodeInt, func(wr *buffer.Buffer) error {
		for _, v := range a {
			wr.AppendUint32(uint32(v))
		}
		return nil
	})
}

func (a *ArrayInt32) Unmarshal(r *buffer.Buffer) error {
	count, code, err := readArrayHeader(r)
	if err != nil {
		return err
	}
	if code != TypeCodeInt {
		return InvalidArrayElement{Wanted: TypeCodeInt, Got: code}
	}
	out := make(ArrayInt32, count)
	for i := range out {
		buf, ok := r.Next(4)
		if !ok {
			return errUnexpectedEOF
		}
		out[i] = int32(be32(buf))
	}
	*a = out
	return nil
}

// ArrayUint32 is an AMQP array of uint, in its 4-byte form.
type ArrayUint32 []uint32

func (a ArrayUint32) Marshal(wr *buffer.Buffer) error {
	return writeArrayHeader(wr, len(a), TypeCodeUint, func(wr *buffer.Buffer) error {
		for _, v := range a {
			wr.AppendUint32(v)
		}
		return nil
	})
}

func (a *ArrayUint32) Unmarshal(r *buffer.Buffer) error {
	count, code, err := readArrayHeader(r)
	if err != nil {
		return err
	}
	if code != TypeCodeUint {
		return InvalidArrayElement{Wanted: TypeCodeUint, Got: code}
	}
	out := make(ArrayUint32, count)
	for i := range out {
		buf, ok := r.Next(4)
		if !ok {
			return errUnexpectedEOF
		}
		out[i] = be32(buf)
	}
	*a = out
	return nil
}

// ArrayInt64 is an AMQP array of long, in its 8-byte form.
type ArrayInt64 []int64

func (a ArrayInt64) Marshal(wr *buffer.Buffer) error {
	return writeArrayHeader(wr, len(a), TypeCodeLong, func(wr *buffer.Buffer) error {
		for _, v := range a {
			wr.AppendUint64(uint64(v))
		}
		return nil
	})
}

func (a *ArrayInt64) Unmarshal(r *buffer.Buffer) error {
	count, code, err := readArrayHeader(r)
	if err != nil {
		return err
	}
	if code != TypeCodeLong {
		return InvalidArrayElement{Wanted: TypeCodeLong, Got: code}
	}
	out := make(ArrayInt64, count)
	for i := range out {
		buf, ok := r.Next(8)
		if !ok {
			return errUnexpectedEOF
		}
		out[i] = int64(be64(buf))
	}
	*a = out
	return nil
}

// ArrayUint64 is an AMQP array of ulong, in its 8-byte form.
type ArrayUint64 []uint64

func (a ArrayUint64) Marshal(wr *buffer.Buffer) error {
	return writeArrayHeader(wr, len(a), TypeCodeUlong, func(wr *buffer.Buffer) error {
		for _, v := range a {
			wr.AppendUint64(v)
		}
		return nil
	})
}

func (a *ArrayUint64) Unmarshal(r *buffer.Buffer) error {
	count, code, err := readArrayHeader(r)
	if err != nil {
		return err
	}
	if code != TypeCodeUlong {
		return InvalidArrayElement{Wanted: TypeCodeUlong, Got: code}
	}
	out := make(ArrayUint64, count)
	for i := range out {
		buf, ok := r.Next(8)
		if !ok {
			return errUnexpectedEOF
		}
		out[i] = be64(buf)
	}
	*a = out
	return nil
}

// ArrayFloat is an AMQP array of float (IEEE-754 binary32).
type ArrayFloat []float32

func (a ArrayFloat) Marshal(wr *buffer.Buffer) error {
	return writeArrayHeader(wr, len(a), TypeCodeFloat, func(wr *buffer.Buffer) error {
		for _, v := range a {
			wr.AppendUint32(math.Float32bits(v))
		}
		return nil
	})
}

func (a *ArrayFloat) Unmarshal(r *buffer.Buffer) error {
	count, code, err := readArrayHeader(r)
	if err != nil {
		return err
	}
	if code != TypeCodeFloat {
		return InvalidArrayElement{Wanted: TypeCodeFloat, Got: code}
	}
	out := make(ArrayFloat, count)
	for i := range out {
		buf, ok := r.Next(4)
		if !ok {
			return errUnexpectedEOF
		}
		out[i] = math.Float32frombits(be32(buf))
	}
	*a = out
	return nil
}

// ArrayDouble is an AMQP array of double (IEEE-754 binary64).
type ArrayDouble []float64

func (a ArrayDouble) Marshal(wr *buffer.Buffer) error {
	return writeArrayHeader(wr, len(a), TypeCodeDouble, func(wr *buffer.Buffer) error {
		for _, v := range a {
			wr.AppendUint64(math.Float64bits(v))
		}
		return nil
	})
}

func (a *ArrayDouble) Unmarshal(r *buffer.Buffer) error {
	count, code, err := readArrayHeader(r)
	if err != nil {
		return err
	}
	if code != TypeCodeDouble {
		return InvalidArrayElement{Wanted: TypeCodeDouble, Got: code}
	}
	out := make(ArrayDouble, count)
	for i := range out {
		buf, ok := r.Next(8)
		if !ok {
			return errUnexpectedEOF
		}
		out[i] = math.Float64frombits(be64(buf))
	}
	*a = out
	return nil
}

// ArrayBool is an AMQP array of boolean, always in its 1-byte wire form.
type ArrayBool []bool

func (a ArrayBool) Marshal(wr *buffer.Buffer) error {
	return writeArrayHeader(wr, len(a), TypeCodeBool, func(wr *buffer.Buffer) error {
		for _, v := range a {
			if v {
				wr.AppendByte(1)
			} else {
				wr.AppendByte(0)
			}
		}
		return nil
	})
}

func (a *ArrayBool) Unmarshal(r *buffer.Buffer) error {
	count, code, err := readArrayHeader(r)
	if err != nil {
		return err
	}
	if code != TypeCodeBool {
		return InvalidArrayElement{Wanted: TypeCodeBool, Got: code}
	}
	out := make(ArrayBool, count)
	for i := range out {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		out[i] = b != 0
	}
	*a = out
	return nil
}

// ArrayString is an AMQP array of string, always in its str32 wire form.
type ArrayString []string

func (a ArrayString) Marshal(wr *buffer.Buffer) error {
	return writeArrayHeader(wr, len(a), TypeCodeStr32, func(wr *buffer.Buffer) error {
		for _, v := range a {
			wr.AppendUint32(uint32(len(v)))
			wr.AppendString(v)
		}
		return nil
	})
}

func (a *ArrayString) Unmarshal(r *buffer.Buffer) error {
	count, code, err := readArrayHeader(r)
	if err != nil {
		return err
	}
	if code != TypeCodeStr32 && code != TypeCodeStr8 {
		return InvalidArrayElement{Wanted: TypeCodeStr32, Got: code}
	}
	out := make(ArrayString, count)
	for i := range out {
		var length int64
		if code == TypeCodeStr8 {
			b, err := r.ReadByte()
			if err != nil {
				return err
			}
			length = int64(b)
		} else {
			buf, ok := r.Next(4)
			if !ok {
				return errUnexpectedEOF
			}
			length = int64(be32(buf))
		}
		buf, ok := r.Next(length)
		if !ok {
			return errUnexpectedEOF
		}
		out[i] = string(buf)
	}
	*a = out
	return nil
}

// ArraySymbol is an AMQP array of symbol, always in its sym32 wire form.
type ArraySymbol []Symbol

func (a ArraySymbol) Marshal(wr *buffer.Buffer) error {
	return writeArrayHeader(wr, len(a), TypeCodeSym32, func(wr *buffer.Buffer) error {
		for _, v := range a {
			wr.AppendUint32(uint32(len(v)))
			wr.AppendString(string(v))
		}
		return nil
	})
}

func (a *ArraySymbol) Unmarshal(r *buffer.Buffer) error {
	count, code, err := readArrayHeader(r)
	if err != nil {
		return err
	}
	if code != TypeCodeSym32 && code != TypeCodeSym8 {
		return InvalidArrayElement{Wanted: TypeCodeSym32, Got: code}
	}
	out := make(ArraySymbol, count)
	for i := range out {
		var length int64
		if code == TypeCodeSym8 {
			b, err := r.ReadByte()
			if err != nil {
				return err
			}
			length = int64(b)
		} else {
			buf, ok := r.Next(4)
			if !ok {
				return errUnexpectedEOF
			}
			length = int64(be32(buf))
		}
		buf, ok := r.Next(length)
		if !ok {
			return errUnexpectedEOF
		}
		out[i] = Symbol(buf)
	}
	*a = out
	return nil
}

// ArrayBinary is an AMQP array of binary, always in its vbin32 wire form.
type ArrayBinary [][]byte

func (a ArrayBinary) Marshal(wr *buffer.Buffer) error {
	return writeArrayHeader(wr, len(a), TypeCodeVbin32, func(wr *buffer.Buffer) error {
		for _, v := range a {
			wr.AppendUint32(uint32(len(v)))
			wr.Append(v)
		}
		return nil
	})
}

func (a *ArrayBinary) Unmarshal(r *buffer.Buffer) error {
	count, code, err := readArrayHeader(r)
	if err != nil {
		return err
	}
	if code != TypeCodeVbin32 && code != TypeCodeVbin8 {
		return InvalidArrayElement{Wanted: TypeCodeVbin32, Got: code}
	}
	out := make(ArrayBinary, count)
	for i := range out {
		var length int64
		if code == TypeCodeVbin8 {
			b, err := r.ReadByte()
			if err != nil {
				return err
			}
			length = int64(b)
		} else {
			buf, ok := r.Next(4)
			if !ok {
				return errUnexpectedEOF
			}
			length = int64(be32(buf))
		}
		buf, ok := r.Next(length)
		if !ok {
			return errUnexpectedEOF
		}
		out[i] = append([]byte(nil), buf...)
	}
	*a = out
	return nil
}

// ArrayTimestamp is an AMQP array of timestamp.
type ArrayTimestamp []time.Time

func (a ArrayTimestamp) Marshal(wr *buffer.Buffer) error {
	return writeArrayHeader(wr, len(a), TypeCodeTimestamp, func(wr *buffer.Buffer) error {
		for _, v := range a {
			ms := v.UnixNano() / int64(time.Millisecond)
			wr.AppendUint64(uint64(ms))
		}
		return nil
	})
}

func (a *ArrayTimestamp) Unmarshal(r *buffer.Buffer) error {
	count, code, err := readArrayHeader(r)
	if err != nil {
		return err
	}
	if code != TypeCodeTimestamp {
		return InvalidArrayElement{Wanted: TypeCodeTimestamp, Got: code}
	}
	out := make(ArrayTimestamp, count)
	for i := range out {
		buf, ok := r.Next(8)
		if !ok {
			return errUnexpectedEOF
		}
		out[i] = time.UnixMilli(int64(be64(buf))).UTC()
	}
	*a = out
	return nil
}

// ArrayUUID is an AMQP array of uuid.
type ArrayUUID []UUID

func (a ArrayUUID) Marshal(wr *buffer.Buffer) error {
	return writeArrayHeader(wr, len(a), TypeCodeUUID, func(wr *buffer.Buffer) error {
		for _, v := range a {
			wr.Append(v[:])
		}
		return nil
	})
}

func (a *ArrayUUID) Unmarshal(r *buffer.Buffer) error {
	count, code, err := readArrayHeader(r)
	if err != nil {
		return err
	}
	if code != TypeCodeUUID {
		return InvalidArrayElement{Wanted: TypeCodeUUID, Got: code}
	}
	out := make(ArrayUUID, count)
	for i := range out {
		buf, ok := r.Next(16)
		if !ok {
			return errUnexpectedEOF
		}
		copy(out[i][:], buf)
	}
	*a = out
	return nil
}
