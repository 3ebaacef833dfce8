package ioc

import (
	"fmt"
	"reflect"
	"time"

	"github.com/sirupsen/logrus"
)

// Initializer runs after a component's dependencies are wired. Returning an
// error fails the construction.
type Initializer interface {
	Initialize() error
}

// Extender decorates a freshly built instance before it is cached. Registered
// with Container.Extend; extenders run in registration order and may wrap or
// replace the instance.
type Extender func(instance any, c *Container) any

// construct builds one instance of d: resolves its injection points, invokes
// the construction style, then runs the initializer, extenders and resolution
// observers. The caller owns chain bookkeeping through rc.
func (c *Container) construct(rc *resolutionContext, d *Descriptor) (any, error) {
	rc.push(d.id)
	prevOwner := rc.owner
	rc.owner = d
	defer func() {
		rc.owner = prevOwner
		rc.pop()
	}()

	started := time.Now()
	var (
		v   any
		err error
	)
	switch d.kind {
	case kindValue:
		v = d.value
	case kindConstructor, kindFactory:
		v, err = c.invokeFunc(rc, d)
	case kindStruct:
		v, err = c.wireStruct(rc, d)
	}
	if err != nil {
		return nil, err
	}

	if init, ok := v.(Initializer); ok {
		if ierr := init.Initialize(); ierr != nil {
			return nil, &ConstructionError{ID: d.id, Err: ierr}
		}
	}

	v = c.applyExtenders(d.id, v)
	c.fireAfterResolving(d.id, v)

	c.log.WithFields(logrus.Fields{
		"component": d.id,
		"scope":     d.scope.String(),
		"took":      time.Since(started),
	}).Debug("constructed component")
	return v, nil
}

// invokeFunc calls a constructor or factory with resolved arguments.
func (c *Container) invokeFunc(rc *resolutionContext, d *Descriptor) (any, error) {
	ft := d.fn.Type()
	args := make([]reflect.Value, len(d.points))
	for i, p := range d.points {
		av, err := c.resolvePoint(rc, p)
		if err != nil {
			return nil, err
		}
		rv, err := conform(av, ft.In(i))
		if err != nil {
			return nil, &ConstructionError{ID: d.id, Err: fmt.Errorf("argument %d: %w", i, err)}
		}
		args[i] = rv
	}
	out := d.fn.Call(args)
	if len(out) == 2 && !out[1].IsNil() {
		return nil, &ConstructionError{ID: d.id, Err: out[1].Interface().(error)}
	}
	return out[0].Interface(), nil
}

// wireStruct instantiates a struct prototype and populates its tagged fields.
func (c *Container) wireStruct(rc *resolutionContext, d *Descriptor) (any, error) {
	pv := reflect.New(d.proto)
	elem := pv.Elem()
	for _, p := range d.points {
		av, err := c.resolvePoint(rc, p)
		if err != nil {
			return nil, err
		}
		if av == nil {
			// optional point with nothing registered, field keeps its zero
			continue
		}
		f := elem.FieldByName(p.field)
		rv, cerr := conform(av, f.Type())
		if cerr != nil {
			return nil, &ConstructionError{ID: d.id, Err: fmt.Errorf("field %s: %w", p.field, cerr)}
		}
		f.Set(rv)
	}
	return pv.Interface(), nil
}

// conform turns a resolved value into a reflect.Value assignable to want,
// substituting the zero value for nil.
func conform(v any, want reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(want), nil
	}
	rv := reflect.ValueOf(v)
	if !rv.Type().AssignableTo(want) {
		return reflect.Value{}, fmt.Errorf("resolved %s where %s is required", rv.Type(), want)
	}
	return rv, nil
}
