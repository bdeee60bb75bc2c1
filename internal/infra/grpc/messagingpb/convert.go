package messagingpb

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

var ErrMismatch = errors.New("messagingpb: value does not fit message")

var timeType = reflect.TypeOf(time.Time{})

const timestampName protoreflect.FullName = "google.protobuf.Timestamp"

// Encode copies v, a struct or a pointer to one, into a new message of type md.
// Struct fields are matched to proto fields by their json tag name and every
// exported field must have a counterpart. Zero times and nil pointers stay unset.
func Encode(md protoreflect.MessageDescriptor, v any) (*dynamicpb.Message, error) {
	msg := dynamicpb.NewMessage(md)
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() == reflect.Pointer && rv.IsNil()) {
		return msg, nil
	}
	if err := encodeMessage(msg, rv); err != nil {
		return nil, err
	}
	return msg, nil
}

// Decode copies msg into dst, a pointer to a struct shaped like the one Encode takes.
// Repeated fields decode to non-nil slices, empty maps to nil.
func Decode(msg proto.Message, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: decode needs a non-nil pointer, got %T", ErrMismatch, dst)
	}
	return decodeMessage(msg.ProtoReflect(), rv.Elem())
}

func encodeMessage(m protoreflect.Message, rv reflect.Value) error {
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	desc := m.Descriptor()
	if desc.FullName() == timestampName {
		if rv.Type() != timeType {
			return mismatch(desc.FullName(), rv)
		}
		ts := timestamppb.New(rv.Interface().(time.Time))
		m.Set(desc.Fields().ByName("seconds"), protoreflect.ValueOfInt64(ts.Seconds))
		m.Set(desc.Fields().ByName("nanos"), protoreflect.ValueOfInt32(ts.Nanos))
		return nil
	}
	if rv.Kind() != reflect.Struct {
		return mismatch(desc.FullName(), rv)
	}
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		name, ok := wireName(t.Field(i))
		if !ok {
			continue
		}
		fd := desc.Fields().ByName(protoreflect.Name(name))
		if fd == nil {
			return fmt.Errorf("%w: %s has no field %q for %s.%s", ErrMismatch, desc.FullName(), name, t, t.Field(i).Name)
		}
		if err := encodeField(m, fd, rv.Field(i)); err != nil {
			return err
		}
	}
	return nil
}

func encodeField(m protoreflect.Message, fd protoreflect.FieldDescriptor, fv reflect.Value) error {
	switch {
	case fd.IsMap():
		if fv.Kind() != reflect.Map || fv.Type().Key().Kind() != reflect.String {
			return mismatch(fd.FullName(), fv)
		}
		if fv.Len() == 0 {
			return nil
		}
		dst := m.Mutable(fd).Map()
		iter := fv.MapRange()
		for iter.Next() {
			val, err := scalarValue(fd.MapValue(), iter.Value())
			if err != nil {
				return err
			}
			dst.Set(protoreflect.ValueOfString(iter.Key().String()).MapKey(), val)
		}
	case fd.IsList():
		if fv.Kind() != reflect.Slice {
			return mismatch(fd.FullName(), fv)
		}
		if fv.Len() == 0 {
			return nil
		}
		dst := m.Mutable(fd).List()
		for i := 0; i < fv.Len(); i++ {
			if fd.Message() == nil {
				val, err := scalarValue(fd, fv.Index(i))
				if err != nil {
					return err
				}
				dst.Append(val)
				continue
			}
			elem := dst.NewElement()
			if err := encodeMessage(elem.Message(), fv.Index(i)); err != nil {
				return err
			}
			dst.Append(elem)
		}
	case fd.Message() != nil:
		if fv.Kind() == reflect.Pointer && fv.IsNil() {
			return nil
		}
		if fv.Type() == timeType && fv.Interface().(time.Time).IsZero() {
			return nil
		}
		return encodeMessage(m.Mutable(fd).Message(), fv)
	default:
		val, err := scalarValue(fd, fv)
		if err != nil {
			return err
		}
		m.Set(fd, val)
	}
	return nil
}

func scalarValue(fd protoreflect.FieldDescriptor, fv reflect.Value) (protoreflect.Value, error) {
	switch fd.Kind() {
	case protoreflect.StringKind:
		if fv.Kind() == reflect.String {
			return protoreflect.ValueOfString(fv.String()), nil
		}
	case protoreflect.BoolKind:
		if fv.Kind() == reflect.Bool {
			return protoreflect.ValueOfBool(fv.Bool()), nil
		}
	case protoreflect.Int32Kind:
		if fv.CanInt() {
			n := fv.Int()
			if n < math.MinInt32 || n > math.MaxInt32 {
				return protoreflect.Value{}, fmt.Errorf("%w: %s overflows int32: %d", ErrMismatch, fd.FullName(), n)
			}
			return protoreflect.ValueOfInt32(int32(n)), nil
		}
	case protoreflect.Int64Kind:
		if fv.CanInt() {
			return protoreflect.ValueOfInt64(fv.Int()), nil
		}
	}
	return protoreflect.Value{}, mismatch(fd.FullName(), fv)
}

func decodeMessage(m protoreflect.Message, rv reflect.Value) error {
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		rv = rv.Elem()
	}
	desc := m.Descriptor()
	if desc.FullName() == timestampName {
		if rv.Type() != timeType {
			return mismatch(desc.FullName(), rv)
		}
		fields := desc.Fields()
		ts := &timestamppb.Timestamp{
			Seconds: m.Get(fields.ByName("seconds")).Int(),
			Nanos:   int32(m.Get(fields.ByName("nanos")).Int()),
		}
		rv.Set(reflect.ValueOf(ts.AsTime()))
		return nil
	}
	if rv.Kind() != reflect.Struct {
		return mismatch(desc.FullName(), rv)
	}
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		name, ok := wireName(t.Field(i))
		if !ok {
			continue
		}
		fd := desc.Fields().ByName(protoreflect.Name(name))
		if fd == nil {
			return fmt.Errorf("%w: %s has no field %q for %s.%s", ErrMismatch, desc.FullName(), name, t, t.Field(i).Name)
		}
		if err := decodeField(m, fd, rv.Field(i)); err != nil {
			return err
		}
	}
	return nil
}

func decodeField(m protoreflect.Message, fd protoreflect.FieldDescriptor, fv reflect.Value) error {
	switch {
	case fd.IsMap():
		if fv.Kind() != reflect.Map || fv.Type().Key().Kind() != reflect.String {
			return mismatch(fd.FullName(), fv)
		}
		src := m.Get(fd).Map()
		if src.Len() == 0 {
			fv.SetZero()
			return nil
		}
		out := reflect.MakeMapWithSize(fv.Type(), src.Len())
		var err error
		src.Range(func(k protoreflect.MapKey, v protoreflect.Value) bool {
			elem := reflect.New(fv.Type().Elem()).Elem()
			if err = setScalar(elem, fd.MapValue(), v); err != nil {
				return false
			}
			out.SetMapIndex(reflect.ValueOf(k.String()).Convert(fv.Type().Key()), elem)
			return true
		})
		if err != nil {
			return err
		}
		fv.Set(out)
	case fd.IsList():
		if fv.Kind() != reflect.Slice {
			return mismatch(fd.FullName(), fv)
		}
		src := m.Get(fd).List()
		out := reflect.MakeSlice(fv.Type(), src.Len(), src.Len())
		for i := 0; i < src.Len(); i++ {
			var err error
			if fd.Message() != nil {
				err = decodeMessage(src.Get(i).Message(), out.Index(i))
			} else {
				err = setScalar(out.Index(i), fd, src.Get(i))
			}
			if err != nil {
				return err
			}
		}
		fv.Set(out)
	case fd.Message() != nil:
		if !m.Has(fd) {
			fv.SetZero()
			return nil
		}
		return decodeMessage(m.Get(fd).Message(), fv)
	default:
		return setScalar(fv, fd, m.Get(fd))
	}
	return nil
}

func setScalar(fv reflect.Value, fd protoreflect.FieldDescriptor, v protoreflect.Value) error {
	switch fd.Kind() {
	case protoreflect.StringKind:
		if fv.Kind() == reflect.String {
			fv.SetString(v.String())
			return nil
		}
	case protoreflect.BoolKind:
		if fv.Kind() == reflect.Bool {
			fv.SetBool(v.Bool())
			return nil
		}
	case protoreflect.Int32Kind, protoreflect.Int64Kind:
		if fv.CanInt() {
			n := v.Int()
			if fv.OverflowInt(n) {
				return fmt.Errorf("%w: %s overflows %s: %d", ErrMismatch, fd.FullName(), fv.Type(), n)
			}
			fv.SetInt(n)
			return nil
		}
	}
	return mismatch(fd.FullName(), fv)
}

func wireName(sf reflect.StructField) (string, bool) {
	if !sf.IsExported() {
		return "", false
	}
	name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
	switch name {
	case "-":
		return "", false
	case "":
		return sf.Name, true
	}
	return name, true
}

func mismatch(name protoreflect.FullName, v reflect.Value) error {
	return fmt.Errorf("%w: %s cannot hold %s", ErrMismatch, name, v.Type())
}
