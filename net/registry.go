package net

import (
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
)

var errType = reflect.TypeOf((*error)(nil)).Elem()

// ApiDescriptor describes one registered API: its match key, the parameter
// types used to decode request bodies, the declared return type, and the
// invoker. A nil ReturnType marks a one-way API: no reply frame is emitted.
type ApiDescriptor struct {
	Name       string
	ParamTypes []reflect.Type
	ReturnType reflect.Type

	fn reflect.Value
}

// Invoke calls the handler with the decoded argument vector and returns its
// result value, or the error it raised.
func (d *ApiDescriptor) Invoke(args []any) (any, error) {
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		if arg == nil {
			in[i] = reflect.Zero(d.ParamTypes[i])
			continue
		}
		in[i] = reflect.ValueOf(arg)
	}

	out := d.fn.Call(in)
	if errv := out[len(out)-1]; !errv.IsNil() {
		return nil, errv.Interface().(error)
	}
	if d.ReturnType == nil {
		return nil, nil
	}
	return out[0].Interface(), nil
}

// ApiRegistry maps API names to descriptors. Registration happens at
// construction time and is frozen before the endpoint starts accepting
// packets; lookups are lock-free afterwards.
type ApiRegistry struct {
	apis   map[string]*ApiDescriptor
	frozen atomic.Bool
}

// NewApiRegistry ...
func NewApiRegistry() *ApiRegistry {
	return &ApiRegistry{apis: make(map[string]*ApiDescriptor)}
}

// Register adds a handler function under name. Valid handler shapes:
//
//	func(args...) error              // one-way, no reply emitted
//	func(args...) (T, error)         // replies with T
//
// Names are case-sensitive and must be unique per endpoint.
func (r *ApiRegistry) Register(name string, handler any) error {
	if r.frozen.Load() {
		return errors.New("registry is frozen, register before the endpoint starts")
	}
	if name == "" {
		return errors.New("api name is empty")
	}
	if len(name) > MaxApiNameBytes {
		return fmt.Errorf("api name %q exceeds %d bytes", name, MaxApiNameBytes)
	}
	if _, ok := r.apis[name]; ok {
		return fmt.Errorf("api %q already registered", name)
	}

	fn := reflect.ValueOf(handler)
	desc, err := describeFunc(name, fn.Type(), fn, 0)
	if err != nil {
		return err
	}
	r.apis[name] = desc
	return nil
}

// RegisterHandlers scans the exported methods of rcvr and registers every
// method whose signature matches a handler shape, keyed by method name.
// Methods with other signatures are skipped.
func (r *ApiRegistry) RegisterHandlers(rcvr any) error {
	if r.frozen.Load() {
		return errors.New("registry is frozen, register before the endpoint starts")
	}
	if rcvr == nil {
		return errors.New("handler receiver is nil")
	}

	v := reflect.ValueOf(rcvr)
	t := v.Type()
	registered := 0
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		desc, err := describeFunc(m.Name, m.Type, v.Method(i), 0)
		if err != nil {
			continue
		}
		if _, ok := r.apis[m.Name]; ok {
			return fmt.Errorf("api %q already registered", m.Name)
		}
		r.apis[m.Name] = desc
		registered++
	}
	if registered == 0 {
		return fmt.Errorf("%s has no methods usable as api handlers", t)
	}
	return nil
}

// TryGet returns the descriptor registered under the identical name, or nil.
func (r *ApiRegistry) TryGet(name string) *ApiDescriptor {
	return r.apis[name]
}

// Freeze seals the registry. Called when an endpoint starts using it.
func (r *ApiRegistry) Freeze() {
	r.frozen.Store(true)
}

// describeFunc validates a handler signature and captures its parameter and
// return types. skipIn is 1 when ft still carries a receiver parameter.
func describeFunc(name string, ft reflect.Type, fn reflect.Value, skipIn int) (*ApiDescriptor, error) {
	if ft.Kind() != reflect.Func {
		return nil, fmt.Errorf("handler for %q is %s, want func", name, ft.Kind())
	}
	if ft.IsVariadic() {
		return nil, fmt.Errorf("handler for %q is variadic", name)
	}
	if ft.NumOut() < 1 || ft.NumOut() > 2 || ft.Out(ft.NumOut()-1) != errType {
		return nil, fmt.Errorf("handler for %q must return error or (T, error)", name)
	}

	// bound methods obtained via Value.Method drop the receiver, so ft from
	// Method(i).Type still includes it while fn.Type does not
	if fn.Type().NumIn() != ft.NumIn() {
		skipIn = ft.NumIn() - fn.Type().NumIn()
	}

	params := make([]reflect.Type, 0, ft.NumIn()-skipIn)
	for i := skipIn; i < ft.NumIn(); i++ {
		params = append(params, ft.In(i))
	}

	desc := &ApiDescriptor{
		Name:       name,
		ParamTypes: params,
		fn:         fn,
	}
	if ft.NumOut() == 2 {
		desc.ReturnType = ft.Out(0)
	}
	return desc, nil
}
