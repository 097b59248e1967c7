package sandbox

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Valuer is implemented by types that expose a template-friendly view of
// themselves.
type Valuer interface {
	TemplateValue() interface{}
}

// ToValue converts a Go value into a cty value usable in template scope.
// Slices become tuples and maps become objects so heterogeneous values
// survive the conversion.
func ToValue(v interface{}) (cty.Value, error) {
	switch tv := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case cty.Value:
		return tv, nil
	case Valuer:
		return ToValue(tv.TemplateValue())
	case string:
		return cty.StringVal(tv), nil
	case bool:
		return cty.BoolVal(tv), nil
	case int:
		return cty.NumberIntVal(int64(tv)), nil
	case int32:
		return cty.NumberIntVal(int64(tv)), nil
	case int64:
		return cty.NumberIntVal(tv), nil
	case uint:
		return cty.NumberUIntVal(uint64(tv)), nil
	case uint64:
		return cty.NumberUIntVal(tv), nil
	case float32:
		return cty.NumberFloatVal(float64(tv)), nil
	case float64:
		return cty.NumberFloatVal(tv), nil
	case time.Time:
		return cty.StringVal(tv.Format(time.RFC3339)), nil
	case time.Duration:
		return cty.StringVal(tv.String()), nil
	case []string:
		vals := make([]cty.Value, len(tv))
		for i, s := range tv {
			vals[i] = cty.StringVal(s)
		}
		return tupleOf(vals), nil
	case []interface{}:
		return sliceValue(reflect.ValueOf(tv))
	case map[string]interface{}:
		return mapValue(reflect.ValueOf(tv))
	case map[string]string:
		return mapValue(reflect.ValueOf(tv))
	case fmt.Stringer:
		return cty.StringVal(tv.String()), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return cty.NullVal(cty.DynamicPseudoType), nil
		}
		return ToValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		return sliceValue(rv)
	case reflect.Map:
		return mapValue(rv)
	case reflect.Struct:
		ty, err := gocty.ImpliedType(v)
		if err != nil {
			return cty.NilVal, fmt.Errorf("convert %T: %w", v, err)
		}
		return gocty.ToCtyValue(v, ty)
	}

	return cty.NilVal, fmt.Errorf("unsupported template value of type %T", v)
}

func sliceValue(rv reflect.Value) (cty.Value, error) {
	vals := make([]cty.Value, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		ev, err := ToValue(rv.Index(i).Interface())
		if err != nil {
			return cty.NilVal, fmt.Errorf("index %d: %w", i, err)
		}
		vals[i] = ev
	}
	return tupleOf(vals), nil
}

func mapValue(rv reflect.Value) (cty.Value, error) {
	if rv.Type().Key().Kind() != reflect.String {
		return cty.NilVal, fmt.Errorf("map keys must be strings, got %s", rv.Type().Key())
	}
	if rv.Len() == 0 {
		return cty.EmptyObjectVal, nil
	}

	keys := make([]string, 0, rv.Len())
	for _, k := range rv.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)

	attrs := make(map[string]cty.Value, len(keys))
	for _, k := range keys {
		ev, err := ToValue(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface())
		if err != nil {
			return cty.NilVal, fmt.Errorf("key %q: %w", k, err)
		}
		attrs[k] = ev
	}
	return cty.ObjectVal(attrs), nil
}

func tupleOf(vals []cty.Value) cty.Value {
	if len(vals) == 0 {
		return cty.EmptyTupleVal
	}
	return cty.TupleVal(vals)
}
