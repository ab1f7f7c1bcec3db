package starbind

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"go.starlark.net/starlark"

	"github.com/feltdbg/feltdbg/pkg/felt"
	"github.com/feltdbg/feltdbg/service/api"
)

// interfaceToStarlarkValue converts a value returned by the debugger into a
// starlark.Value. Structs and slices are wrapped, not copied.
func (env *Env) interfaceToStarlarkValue(v interface{}) starlark.Value {
	switch v := v.(type) {
	case nil:
		return starlark.None
	case starlark.Value:
		return v
	case felt.Felt:
		return starlark.MakeUint64(uint64(v))
	case bool:
		return starlark.Bool(v)
	case string:
		return starlark.String(v)
	case error:
		return starlark.String(v.Error())
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return starlark.None
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		return structAsStarlarkValue{rv, env}
	case reflect.Slice:
		return sliceAsStarlarkValue{rv, env}
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		return starlark.MakeUint64(rv.Uint())
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		return starlark.MakeInt64(rv.Int())
	}
	return starlark.String(fmt.Sprintf("%v", v))
}

// sliceAsStarlarkValue exposes a Go slice as an indexable starlark
// sequence. Elements are converted when they are accessed.
type sliceAsStarlarkValue struct {
	v   reflect.Value
	env *Env
}

var (
	_ starlark.Indexable = sliceAsStarlarkValue{}
	_ starlark.Sequence  = sliceAsStarlarkValue{}
)

func (v sliceAsStarlarkValue) Freeze()               {}
func (v sliceAsStarlarkValue) Hash() (uint32, error) { return 0, fmt.Errorf("not hashable") }
func (v sliceAsStarlarkValue) Truth() starlark.Bool  { return v.v.Len() != 0 }
func (v sliceAsStarlarkValue) Type() string          { return v.v.Type().String() }
func (v sliceAsStarlarkValue) Len() int              { return v.v.Len() }

func (v sliceAsStarlarkValue) String() string {
	elems := make([]string, v.v.Len())
	for i := range elems {
		elems[i] = v.Index(i).String()
	}
	return "[" + strings.Join(elems, ", ") + "]"
}

func (v sliceAsStarlarkValue) Index(i int) starlark.Value {
	if i < 0 || i >= v.v.Len() {
		return nil
	}
	return v.env.interfaceToStarlarkValue(v.v.Index(i).Interface())
}

func (v sliceAsStarlarkValue) Iterate() starlark.Iterator {
	return &sliceIterator{v: v}
}

type sliceIterator struct {
	v   sliceAsStarlarkValue
	cur int
}

func (it *sliceIterator) Done() {}

func (it *sliceIterator) Next(p *starlark.Value) bool {
	if it.cur >= it.v.Len() {
		return false
	}
	*p = it.v.Index(it.cur)
	it.cur++
	return true
}

// structAsStarlarkValue exposes the exported fields of a Go struct as
// starlark attributes.
type structAsStarlarkValue struct {
	v   reflect.Value
	env *Env
}

var _ starlark.HasAttrs = structAsStarlarkValue{}

func (v structAsStarlarkValue) Freeze()               {}
func (v structAsStarlarkValue) Hash() (uint32, error) { return 0, fmt.Errorf("not hashable") }
func (v structAsStarlarkValue) Truth() starlark.Bool  { return true }
func (v structAsStarlarkValue) Type() string          { return v.v.Type().Name() }

func (v structAsStarlarkValue) String() string {
	if vv, ok := v.v.Interface().(api.Variable); ok {
		return fmt.Sprintf("Variable<%s = %s>", vv.Name, vv.SinglelineString())
	}
	// The api types implement Stringer on their pointers.
	p := reflect.New(v.v.Type())
	p.Elem().Set(v.v)
	if s, ok := p.Interface().(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%+v", v.v.Interface())
}

func (v structAsStarlarkValue) Attr(name string) (starlark.Value, error) {
	if vv, ok := v.v.Interface().(api.Variable); ok && name == "Int" {
		return variableInt(vv), nil
	}
	f := v.v.FieldByName(name)
	if !f.IsValid() {
		return starlark.None, fmt.Errorf("no field named %q in %s", name, v.v.Type())
	}
	return v.env.interfaceToStarlarkValue(f.Interface()), nil
}

func (v structAsStarlarkValue) AttrNames() []string {
	typ := v.v.Type()
	names := make([]string, 0, typ.NumField()+1)
	for i := 0; i < typ.NumField(); i++ {
		names = append(names, typ.Field(i).Name)
	}
	if typ == reflect.TypeOf(api.Variable{}) {
		names = append(names, "Int")
	}
	return names
}

// variableInt is the value of a variable as a number, None when it could
// not be read. The Value field keeps the decimal string.
func variableInt(v api.Variable) starlark.Value {
	if v.Unreadable != "" {
		return starlark.None
	}
	n, err := strconv.ParseUint(v.Value, 10, 64)
	if err != nil {
		return starlark.None
	}
	return starlark.MakeUint64(n)
}

// unmarshalStarlarkValue stores val into the Go variable dst points to,
// converting lists to slices and dicts to structs. path names the argument
// in error messages.
func unmarshalStarlarkValue(val starlark.Value, dst interface{}, path string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("error setting argument %q to %s: %v", path, val, r)
		}
	}()
	return unmarshalInto(val, reflect.ValueOf(dst), path)
}

func unmarshalInto(val starlark.Value, dst reflect.Value, path string) error {
	if val == starlark.None {
		return nil
	}
	for dst.Kind() == reflect.Ptr {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		dst = dst.Elem()
	}

	cannot := func(reason string) error {
		msg := fmt.Sprintf("error setting argument %q: can not convert %s to %s", path, val, dst.Type())
		if reason != "" {
			msg += ": " + reason
		}
		return fmt.Errorf("%s", msg)
	}

	switch val := val.(type) {
	case starlark.Bool:
		dst.SetBool(bool(val))
	case starlark.String:
		dst.SetString(string(val))
	case starlark.Float:
		dst.SetFloat(float64(val))
	case starlark.Int:
		switch dst.Kind() {
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			n, ok := val.Uint64()
			if !ok || dst.OverflowUint(n) {
				return cannot("out of range")
			}
			dst.SetUint(n)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n, ok := val.Int64()
			if !ok || dst.OverflowInt(n) {
				return cannot("out of range")
			}
			dst.SetInt(n)
		case reflect.String:
			dst.SetString(val.String())
		default:
			return cannot("")
		}
	case *starlark.List:
		if dst.Kind() != reflect.Slice {
			return cannot("")
		}
		s := reflect.MakeSlice(dst.Type(), val.Len(), val.Len())
		for i := 0; i < val.Len(); i++ {
			if err := unmarshalInto(val.Index(i), s.Index(i).Addr(), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		dst.Set(s)
	case *starlark.Dict:
		if dst.Kind() != reflect.Struct {
			return cannot("")
		}
		for _, item := range val.Items() {
			name, ok := item[0].(starlark.String)
			if !ok {
				return cannot(fmt.Sprintf("non-string key %s", item[0]))
			}
			field := dst.FieldByName(string(name))
			if !field.IsValid() {
				return cannot(fmt.Sprintf("unknown field %s", name))
			}
			if err := unmarshalInto(item[1], field.Addr(), path+"."+string(name)); err != nil {
				return err
			}
		}
	case structAsStarlarkValue:
		dst.Set(val.v)
	default:
		return cannot("")
	}
	return nil
}
