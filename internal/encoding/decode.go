package encoding

import (
	"reflect"
	"time"

	"github.com/pkg/errors"

	"github.com/amqp10/go-amqp/internal/buffer"
)

var (
	errUnexpectedEOF = errors.New("encoding: unexpected end of frame")
)

// Unmarshaler is implemented by every composite and wrapper type in this
// package and in internal/frames.
type Unmarshaler interface {
	Unmarshal(*buffer.Buffer) error
}

// ReadType reads and consumes the next format code.
func ReadType(r *buffer.Buffer) (AMQPType, error) {
	b, err := r.ReadByte()
	return AMQPType(b), err
}

// PeekType returns the next format code without consuming it. Returns nil
// if the buffer is empty.
func PeekType(r *buffer.Buffer) (*AMQPType, error) {
	buf, ok := r.Peek(1)
	if !ok {
		return nil, nil
	}
	t := AMQPType(buf[0])
	return &t, nil
}

// TryReadNull consumes a null format code if present and reports whether
// it did.
func TryReadNull(r *buffer.Buffer) bool {
	buf, ok := r.Peek(1)
	if ok && AMQPType(buf[0]) == TypeCodeNull {
		r.Skip(1)
		return true
	}
	return false
}

// Unmarshal decodes the next value from r into dst, which must be a
// pointer (or implement Unmarshaler).
func Unmarshal(r *buffer.Buffer, dst interface{}) error {
	if u, ok := dst.(Unmarshaler); ok {
		return u.Unmarshal(r)
	}

	switch p := dst.(type) {
	case *interface{}:
		v, err := readAny(r)
		if err != nil {
			return err
		}
		*p = v
		return nil
	case *bool:
		v, err := ReadBool(r)
		*p = v
		return err
	case *uint8:
		v, err := ReadUbyte(r)
		*p = v
		return err
	case *uint16:
		v, err := ReadUshort(r)
		*p = v
		return err
	case *uint32:
		v, err := ReadUint(r)
		*p = v
		return err
	case **uint32:
		if TryReadNull(r) {
			*p = nil
			return nil
		}
		v, err := ReadUint(r)
		if err != nil {
			return err
		}
		*p = &v
		return nil
	case *uint64:
		v, err := ReadUlong(r)
		*p = v
		return err
	case *int32:
		v, err := readInt32(r)
		*p = v
		return err
	case *int64:
		v, err := readInt64(r)
		*p = v
		return err
	case *string:
		v, err := ReadString(r)
		*p = v
		return err
	case *[]byte:
		v, err := readBinary(r)
		*p = v
		return err
	case *time.Time:
		v, err := readTimestamp(r)
		*p = v
		return err
	case *map[Symbol]interface{}:
		return readMapSymbolAny(r, p)
	case *map[string]interface{}:
		return readMapStringAny(r, p)
	case *DeliveryState:
		v, err := readDeliveryState(r)
		*p = v
		return err
	default:
		// **T (an optional field): allocate the pointee if needed and
		// decode into it
		v := reflect.ValueOf(dst)
		if v.Kind() == reflect.Ptr && !v.IsNil() && v.Elem().Kind() == reflect.Ptr {
			if v.Elem().IsNil() {
				v.Elem().Set(reflect.New(v.Elem().Type().Elem()))
			}
			return Unmarshal(r, v.Elem().Interface())
		}
		return errors.Errorf("encoding: unmarshal not implemented for %T", dst)
	}
}

func readAny(r *buffer.Buffer) (interface{}, error) {
	type_, err := PeekType(r)
	if err != nil || type_ == nil {
		return nil, err
	}
	switch *type_ {
	case TypeCodeNull:
		r.Skip(1)
		return nil, nil
	case TypeCodeBool, TypeCodeBoolTrue, TypeCodeBoolFalse:
		return ReadBool(r)
	case TypeCodeUbyte:
		return ReadUbyte(r)
	case TypeCodeUshort:
		return ReadUshort(r)
	case TypeCodeUint, TypeCodeSmallUint, TypeCodeUint0:
		return ReadUint(r)
	case TypeCodeUlong, TypeCodeSmallUlong, TypeCodeUlong0:
		return ReadUlong(r)
	case TypeCodeInt, TypeCodeSmallint:
		return readInt32(r)
	case TypeCodeLong, TypeCodeSmalllong:
		return readInt64(r)
	case TypeCodeStr8, TypeCodeStr32:
		return ReadString(r)
	case TypeCodeSym8, TypeCodeSym32:
		var s Symbol
		err := s.Unmarshal(r)
		return s, err
	case TypeCodeVbin8, TypeCodeVbin32:
		return readBinary(r)
	case TypeCodeTimestamp:
		return readTimestamp(r)
	case TypeCodeUUID:
		var u UUID
		err := u.Unmarshal(r)
		return u, err
	case TypeCodeMap8, TypeCodeMap32:
		var m map[string]interface{}
		err := readMapStringAny(r, &m)
		return m, err
	case TypeCodeList0, TypeCodeList8, TypeCodeList32:
		var l List
		err := l.Unmarshal(r)
		return []interface{}(l), err
	case 0x0:
		var d DescribedType
		err := d.Unmarshal(r)
		return d, err
	default:
		return nil, errors.Errorf("encoding: unsupported type code %#02x", byte(*type_))
	}
}

// ReadBool decodes a boolean in any of its three wire forms.
func ReadBool(r *buffer.Buffer) (bool, error) {
	type_, err := ReadType(r)
	if err != nil {
		return false, err
	}
	switch type_ {
	case TypeCodeBoolTrue:
		return true, nil
	case TypeCodeBoolFalse:
		return false, nil
	case TypeCodeBool:
		b, err := r.ReadByte()
		return b != 0, err
	default:
		return false, errors.Errorf("encoding: invalid format code %#02x for bool", byte(type_))
	}
}

func ReadUbyte(r *buffer.Buffer) (uint8, error) {
	type_, err := ReadType(r)
	if err != nil {
		return 0, err
	}
	if type_ != TypeCodeUbyte {
		return 0, errors.Errorf("encoding: invalid format code %#02x for ubyte", byte(type_))
	}
	return r.ReadByte()
}

func ReadUshort(r *buffer.Buffer) (uint16, error) {
	type_, err := ReadType(r)
	if err != nil {
		return 0, err
	}
	if type_ != TypeCodeUshort {
		return 0, errors.Errorf("encoding: invalid format code %#02x for ushort", byte(type_))
	}
	buf, ok := r.Next(2)
	if !ok {
		return 0, errUnexpectedEOF
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

// ReadUint decodes any of the uint wire forms (uint0/smalluint/uint).
func ReadUint(r *buffer.Buffer) (uint32, error) {
	type_, err := ReadType(r)
	if err != nil {
		return 0, err
	}
	switch type_ {
	case TypeCodeUint0:
		return 0, nil
	case TypeCodeSmallUint:
		b, err := r.ReadByte()
		return uint32(b), err
	case TypeCodeUint:
		buf, ok := r.Next(4)
		if !ok {
			return 0, errUnexpectedEOF
		}
		return be32(buf), nil
	default:
		return 0, errors.Errorf("encoding: invalid format code %#02x for uint", byte(type_))
	}
}

// ReadUlong decodes any of the ulong wire forms (ulong0/smallulong/ulong).
func ReadUlong(r *buffer.Buffer) (uint64, error) {
	type_, err := ReadType(r)
	if err != nil {
		return 0, err
	}
	switch type_ {
	case TypeCodeUlong0:
		return 0, nil
	case TypeCodeSmallUlong:
		b, err := r.ReadByte()
		return uint64(b), err
	case TypeCodeUlong:
		buf, ok := r.Next(8)
		if !ok {
			return 0, errUnexpectedEOF
		}
		return be64(buf), nil
	default:
		return 0, errors.Errorf("encoding: invalid format code %#02x for ulong", byte(type_))
	}
}

func readInt32(r *buffer.Buffer) (int32, error) {
	type_, err := ReadType(r)
	if err != nil {
		return 0, err
	}
	switch type_ {
	case TypeCodeSmallint:
		b, err := r.ReadByte()
		return int32(int8(b)), err
	case TypeCodeInt:
		buf, ok := r.Next(4)
		if !ok {
			return 0, errUnexpectedEOF
		}
		return int32(be32(buf)), nil
	default:
		return 0, errors.Errorf("encoding: invalid format code %#02x for int", byte(type_))
	}
}

func readInt64(r *buffer.Buffer) (int64, error) {
	type_, err := ReadType(r)
	if err != nil {
		return 0, err
	}
	switch type_ {
	case TypeCodeSmalllong:
		b, err := r.ReadByte()
		return int64(int8(b)), err
	case TypeCodeLong:
		buf, ok := r.Next(8)
		if !ok {
			return 0, errUnexpectedEOF
		}
		return int64(be64(buf)), nil
	default:
		return 0, errors.Errorf("encoding: invalid format code %#02x for long", byte(type_))
	}
}

// ReadString decodes a UTF-8 string (str8/str32) or a symbol (sym8/sym32),
// since both carry a length-prefixed run of bytes.
func ReadString(r *buffer.Buffer) (string, error) {
	type_, err := ReadType(r)
	if err != nil {
		return "", err
	}
	var length int64
	switch type_ {
	case TypeCodeStr8, TypeCodeSym8:
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		length = int64(b)
	case TypeCodeStr32, TypeCodeSym32:
		buf, ok := r.Next(4)
		if !ok {
			return "", errUnexpectedEOF
		}
		length = int64(be32(buf))
	default:
		return "", errors.Errorf("encoding: invalid format code %#02x for string", byte(type_))
	}
	buf, ok := r.Next(length)
	if !ok {
		return "", errUnexpectedEOF
	}
	if type_ == TypeCodeSym8 || type_ == TypeCodeSym32 {
		for _, b := range buf {
			if b > 127 {
				return "", errors.New("encoding: invalid symbol: non-ASCII byte")
			}
		}
	}
	return string(buf), nil
}

func readBinary(r *buffer.Buffer) ([]byte, error) {
	type_, err := ReadType(r)
	if err != nil {
		return nil, err
	}
	var length int64
	switch type_ {
	case TypeCodeVbin8:
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		length = int64(b)
	case TypeCodeVbin32:
		buf, ok := r.Next(4)
		if !ok {
			return nil, errUnexpectedEOF
		}
		length = int64(be32(buf))
	default:
		return nil, errors.Errorf("encoding: invalid format code %#02x for binary", byte(type_))
	}
	buf, ok := r.Next(length)
	if !ok {
		return nil, errUnexpectedEOF
	}
	return append([]byte(nil), buf...), nil
}

func readTimestamp(r *buffer.Buffer) (time.Time, error) {
	type_, err := ReadType(r)
	if err != nil {
		return time.Time{}, err
	}
	if type_ != TypeCodeTimestamp {
		return time.Time{}, errors.Errorf("encoding: invalid format code %#02x for timestamp", byte(type_))
	}
	buf, ok := r.Next(8)
	if !ok {
		return time.Time{}, errUnexpectedEOF
	}
	ms := int64(be64(buf))
	return time.UnixMilli(ms).UTC(), nil
}

// ReadMapHeader consumes a map's type/size/count header and returns the
// element count (always even: key,value,key,value,...).
func ReadMapHeader(r *buffer.Buffer) (uint32, error) {
	type_, err := ReadType(r)
	if err != nil {
		return 0, err
	}
	switch type_ {
	case TypeCodeMap8:
		if _, err := r.ReadByte(); err != nil { // size
			return 0, err
		}
		count, err := r.ReadByte()
		return uint32(count), err
	case TypeCodeMap32:
		if _, ok := r.Next(4); !ok { // size
			return 0, errUnexpectedEOF
		}
		buf, ok := r.Next(4)
		if !ok {
			return 0, errUnexpectedEOF
		}
		return be32(buf), nil
	default:
		return 0, errors.Errorf("encoding: invalid format code %#02x for map", byte(type_))
	}
}

func readMapStringAny(r *buffer.Buffer, dst *map[string]interface{}) error {
	if TryReadNull(r) {
		*dst = nil
		return nil
	}
	count, err := ReadMapHeader(r)
	if err != nil {
		return err
	}
	m := make(map[string]interface{}, count/2)
	for i := uint32(0); i < count; i += 2 {
		key, err := ReadString(r)
		if err != nil {
			return err
		}
		val, err := readAny(r)
		if err != nil {
			return err
		}
		m[key] = val
	}
	*dst = m
	return nil
}

func readMapSymbolAny(r *buffer.Buffer, dst *map[Symbol]interface{}) error {
	if TryReadNull(r) {
		*dst = nil
		return nil
	}
	count, err := ReadMapHeader(r)
	if err != nil {
		return err
	}
	m := make(map[Symbol]interface{}, count/2)
	for i := uint32(0); i < count; i += 2 {
		var key Symbol
		if err := key.Unmarshal(r); err != nil {
			return err
		}
		val, err := readAny(r)
		if err != nil {
			return err
		}
		m[key] = val
	}
	*dst = m
	return nil
}

func readDeliveryState(r *buffer.Buffer) (DeliveryState, error) {
	if TryReadNull(r) {
		return nil, nil
	}
	code, err := peekCompositeDescriptor(r)
	if err != nil {
		return nil, err
	}
	var ds DeliveryState
	switch code {
	case uint64(TypeCodeStateReceived):
		ds = new(StateReceived)
	case uint64(TypeCodeStateAccepted):
		ds = new(StateAccepted)
	case uint64(TypeCodeStateRejected):
		ds = new(StateRejected)
	case uint64(TypeCodeStateReleased):
		ds = new(StateReleased)
	case uint64(TypeCodeStateModified):
		ds = new(StateModified)
	default:
		return nil, errors.Errorf("encoding: unrecognized delivery-state descriptor %#x", code)
	}
	if err := ds.(Unmarshaler).Unmarshal(r); err != nil {
		return nil, err
	}
	return ds, nil
}

// UnmarshalField is one positional field of a list-encoded composite being
// decoded.
type UnmarshalField struct {
	Field      interface{}
	HandleNull func() error
}

// peekCompositeDescriptor inspects, without consuming, the numeric code
// of the described composite at the front of r. Used by callers (like
// delivery-state decoding) that must choose a concrete type before
// handing the cursor to that type's own Unmarshal/UnmarshalComposite.
func peekCompositeDescriptor(r *buffer.Buffer) (uint64, error) {
	buf, ok := r.Peek(2)
	if !ok {
		return 0, errUnexpectedEOF
	}
	if buf[0] != 0x0 {
		return 0, errors.Errorf("encoding: expected described-type constructor, got %#02x", buf[0])
	}
	switch AMQPType(buf[1]) {
	case TypeCodeSmallUlong:
		buf, ok := r.Peek(3)
		if !ok {
			return 0, errUnexpectedEOF
		}
		return uint64(buf[2]), nil
	case TypeCodeUlong:
		buf, ok := r.Peek(10)
		if !ok {
			return 0, errUnexpectedEOF
		}
		var v uint64
		for _, c := range buf[2:10] {
			v = v<<8 | uint64(c)
		}
		return v, nil
	default:
		return 0, errors.Errorf("encoding: unsupported delivery-state descriptor format code %#02x", buf[1])
	}
}

// PeekCompositeDescriptor inspects, without consuming, the numeric code
// of the described composite at the front of r. Unlike PeekCompositeCode
// it leaves the entire descriptor on the buffer, so callers that only
// need to pick a concrete type before delegating to that type's own
// Unmarshal/UnmarshalComposite (which re-reads the descriptor itself)
// should use this instead.
func PeekCompositeDescriptor(r *buffer.Buffer) (uint64, error) {
	return peekCompositeDescriptor(r)
}

// PeekCompositeCode inspects (without fully consuming beyond the
// descriptor) the numeric code of the next described composite, accepting
// both a symbol name and a ulong code as the AMQP spec requires. It
// leaves the cursor positioned at the start of the list/map payload.
func PeekCompositeCode(r *buffer.Buffer) (code uint64, sym Symbol, err error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, "", err
	}
	if b != 0x0 {
		return 0, "", errors.Errorf("encoding: expected described-type constructor, got %#02x", b)
	}
	type_, err := PeekType(r)
	if err != nil || type_ == nil {
		return 0, "", errUnexpectedEOF
	}
	switch *type_ {
	case TypeCodeSym8, TypeCodeSym32:
		var s Symbol
		if err := s.Unmarshal(r); err != nil {
			return 0, "", err
		}
		return 0, s, nil
	default:
		code, err := ReadUlong(r)
		return code, "", err
	}
}

// UnmarshalComposite decodes a described-list composite previously written
// with MarshalComposite, mapping absent trailing fields to the null
// default recorded by each field's HandleNull.
func UnmarshalComposite(r *buffer.Buffer, code AMQPType, fields ...UnmarshalField) error {
	gotCode, _, err := PeekCompositeCode(r)
	if err != nil {
		return err
	}
	if gotCode != uint64(code) {
		return errors.Errorf("encoding: expected composite descriptor %#x, got %#x", code, gotCode)
	}

	type_, err := ReadType(r)
	if err != nil {
		return err
	}

	var count uint32
	switch type_ {
	case TypeCodeList0:
		count = 0
	case TypeCodeList8:
		if _, err := r.ReadByte(); err != nil { // size
			return err
		}
		c, err := r.ReadByte()
		if err != nil {
			return err
		}
		count = uint32(c)
	case TypeCodeList32:
		if _, ok := r.Next(4); !ok { // size
			return errUnexpectedEOF
		}
		buf, ok := r.Next(4)
		if !ok {
			return errUnexpectedEOF
		}
		count = be32(buf)
	default:
		return errors.Errorf("encoding: invalid format code %#02x for composite list", byte(type_))
	}

	for i := uint32(0); i < count && int(i) < len(fields); i++ {
		f := fields[i]
		if TryReadNull(r) {
			if f.HandleNull != nil {
				if err := f.HandleNull(); err != nil {
					return err
				}
			}
			continue
		}
		if err := Unmarshal(r, f.Field); err != nil {
			return err
		}
	}
	// trailing fields the wire omitted entirely (not even as null)
	for i := count; int(i) < len(fields); i++ {
		if fields[i].HandleNull != nil {
			if err := fields[i].HandleNull(); err != nil {
				return err
			}
		}
	}
	// extra fields on the wire beyond what this version knows: skip them
	for i := uint32(len(fields)); i < count; i++ {
		if err := skipValue(r); err != nil {
			return err
		}
	}
	return nil
}

func skipValue(r *buffer.Buffer) error {
	var discard interface{}
	return Unmarshal(r, &discard)
}

func be32(b []byte) uint32 {
	_ = b[3]
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func be64(b []byte) uint64 {
	_ = b[7]
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}
