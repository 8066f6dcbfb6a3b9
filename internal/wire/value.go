// Package wire defines the producer→consumer message shapes and the
// conversion of captured Go values into plain structural form. The transport
// never serializes opaque objects directly: everything that crosses the
// process boundary is reduced here to primitives, lists, and string-keyed
// maps before msgpack encoding.
package wire

import (
	"fmt"
	"reflect"

	"github.com/probescope/probescope/internal/errors"
	"github.com/probescope/probescope/internal/target"
)

const (
	// maxEncodeDepth bounds recursion into nested values. Subtrees below
	// the limit are replaced with the placeholder marker.
	maxEncodeDepth = 8

	// maxElements bounds how many elements of a list or map are encoded.
	maxElements = 4096
)

// EncodeValue converts an arbitrary value to its wire representation: the
// structural value, its dtype tag, and an optional shape for array-like
// values. Values that cannot be represented (channels, functions, unsafe
// pointers) return ErrSerialization; the caller substitutes the placeholder
// record rather than dropping the capture.
func EncodeValue(v any) (any, target.ValueKind, []int, error) {
	if v == nil {
		return nil, target.KindNil, nil, nil
	}

	rv := reflect.ValueOf(v)
	enc, kind, err := encode(rv, 0)
	if err != nil {
		return nil, target.KindUnserializable, nil, err
	}

	var shape []int
	if kind == target.KindList {
		shape = listShape(enc)
	}
	return enc, kind, shape, nil
}

// listShape returns [n] for a list, or [n, m] when every element is itself a
// list of the same length (a rectangular matrix).
func listShape(v any) []int {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	shape := []int{len(list)}
	if len(list) == 0 {
		return shape
	}

	inner := -1
	for _, el := range list {
		sub, ok := el.([]any)
		if !ok {
			return shape
		}
		if inner == -1 {
			inner = len(sub)
		} else if len(sub) != inner {
			return shape
		}
	}
	return append(shape, inner)
}

func encode(rv reflect.Value, depth int) (any, target.ValueKind, error) {
	if depth > maxEncodeDepth {
		return target.Placeholder, target.KindUnserializable, nil
	}

	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), target.KindBool, nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), target.KindInt, nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return int64(rv.Uint()), target.KindInt, nil

	case reflect.Float32, reflect.Float64:
		return rv.Float(), target.KindFloat, nil

	case reflect.String:
		return rv.String(), target.KindString, nil

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return append([]byte(nil), rv.Bytes()...), target.KindBytes, nil
		}
		n := rv.Len()
		if n > maxElements {
			n = maxElements
		}
		out := make([]any, n)
		for i := 0; i < n; i++ {
			el, _, err := encode(rv.Index(i), depth+1)
			if err != nil {
				el = target.Placeholder
			}
			out[i] = el
		}
		return out, target.KindList, nil

	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for i := 0; iter.Next() && i < maxElements; i++ {
			el, _, err := encode(iter.Value(), depth+1)
			if err != nil {
				el = target.Placeholder
			}
			out[mapKey(iter.Key())] = el
		}
		return out, target.KindMap, nil

	case reflect.Struct:
		rt := rv.Type()
		out := make(map[string]any, rt.NumField())
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if !f.IsExported() {
				continue
			}
			el, _, err := encode(rv.Field(i), depth+1)
			if err != nil {
				el = target.Placeholder
			}
			out[f.Name] = el
		}
		return out, target.KindObject, nil

	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, target.KindNil, nil
		}
		// Each hop counts against the depth limit so a self-referential
		// pointer chain terminates at the placeholder.
		return encode(rv.Elem(), depth+1)

	default:
		// Chan, Func, UnsafePointer, Complex
		return nil, target.KindUnserializable,
			fmt.Errorf("%w: cannot represent %s", errors.ErrSerialization, rv.Kind())
	}
}

// mapKey renders a map key as a string. Non-string keys keep their printed
// form so the structure stays a plain string-keyed map on the wire.
func mapKey(rv reflect.Value) string {
	if rv.Kind() == reflect.String {
		return rv.String()
	}
	if rv.Kind() == reflect.Interface && !rv.IsNil() && rv.Elem().Kind() == reflect.String {
		return rv.Elem().String()
	}
	return fmt.Sprint(rv.Interface())
}
