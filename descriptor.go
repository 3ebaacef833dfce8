package ioc

import (
	"context"
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

// ── Injection points ──────────────────────────────────────────────────────────

// InjectionPoint describes one dependency slot of a component: a constructor
// parameter or a tagged struct field. Points are derived by reflection at
// registration and never change afterwards.
type InjectionPoint struct {
	// Type is the required type, nil when ByID pins the point to an explicit id.
	Type reflect.Type

	// Qualifier narrows same-type candidates to the ones carrying it.
	Qualifier string

	// Optional points receive the zero value instead of failing when no
	// candidate exists.
	Optional bool

	// ByID resolves the point by component id (or external-value key) instead
	// of by type.
	ByID string

	// field is the struct field name for field injection, empty for parameters.
	field string
}

func (p InjectionPoint) describe() string {
	if p.ByID != "" {
		return "[" + p.ByID + "]"
	}
	return typeName(p.Type)
}

// DestroyFunc tears one instance down. It receives the context passed to
// ExitScope or Shutdown.
type DestroyFunc func(ctx context.Context, instance any) error

// ── Descriptor ────────────────────────────────────────────────────────────────

type constructionKind int

const (
	kindConstructor constructionKind = iota
	kindFactory
	kindValue
	kindStruct
)

// Descriptor is the immutable registration record for one component: identity,
// declared type, scope and the recipe for building instances.
type Descriptor struct {
	id        string
	typ       reflect.Type
	qualifier string
	scope     ScopeKind
	eager     bool
	tags      []string

	kind   constructionKind
	fn     reflect.Value // constructor or factory
	value  any           // prebuilt instance
	proto  reflect.Type  // struct prototype elem type
	points []InjectionPoint

	destroy DestroyFunc
}

func (d *Descriptor) ID() string         { return d.id }
func (d *Descriptor) Type() reflect.Type { return d.typ }
func (d *Descriptor) Qualifier() string  { return d.qualifier }
func (d *Descriptor) Scope() ScopeKind   { return d.scope }
func (d *Descriptor) IsEager() bool      { return d.eager }

// Tags returns a copy of the component's capability tags.
func (d *Descriptor) Tags() []string {
	out := make([]string, len(d.tags))
	copy(out, d.tags)
	return out
}

// ── Stereotypes ───────────────────────────────────────────────────────────────

// Stereotype is a reusable bundle of capability tags. Applying it to a builder
// tags the component with the stereotype's own name plus every implied tag.
//
//	var Component  = ioc.NewStereotype("component")
//	var Repository = ioc.NewStereotype("repository", Component)
//
//	c.Register(ioc.Component("users").UseConstructor(NewUserRepo).Stereotype(Repository))
//	// tagged "repository" and "component"
type Stereotype struct {
	name string
	tags []string
}

// NewStereotype defines a stereotype named name that also implies every tag of
// the given parents.
func NewStereotype(name string, implies ...Stereotype) Stereotype {
	tags := []string{name}
	seen := map[string]bool{name: true}
	for _, p := range implies {
		for _, t := range p.tags {
			if !seen[t] {
				seen[t] = true
				tags = append(tags, t)
			}
		}
	}
	return Stereotype{name: name, tags: tags}
}

func (s Stereotype) Name() string { return s.name }

func (s Stereotype) Tags() []string {
	out := make([]string, len(s.tags))
	copy(out, s.tags)
	return out
}

// ── Builder ───────────────────────────────────────────────────────────────────

type argOverride struct {
	qualifier    string
	hasQualifier bool
	optional     bool
	byID         string
}

// Builder assembles a Descriptor fluently. Construct one with Component and
// hand it to Container.Register, which reports any accumulated builder error.
//
//	c.Register(ioc.Component("cache.fast").
//	    Provides((*Cache)(nil)).
//	    Qualifier("fast").
//	    UseConstructor(NewMemoryCache))
type Builder struct {
	id        string
	provides  reflect.Type
	qualifier string
	scope     ScopeKind
	scopeSet  bool
	eager     bool
	tags      []string

	kind    constructionKind
	kindSet bool
	fn      any
	value   any
	proto   any

	overrides map[int]argOverride
	destroy   DestroyFunc

	err error
}

// Component starts a builder for the given id. An empty id defaults to the
// declared type's key (see TypeKey), suffixed ":<qualifier>" when a qualifier
// is set.
func Component(id string) *Builder {
	return &Builder{id: id, scope: Singleton}
}

func (b *Builder) fail(format string, args ...any) *Builder {
	if b.err == nil {
		b.err = errors.Errorf(format, args...)
	}
	return b
}

// Provides declares the type this component fulfils. Pass a nil interface
// pointer for interfaces:
//
//	Provides((*Cache)(nil))
func (b *Builder) Provides(iface any) *Builder {
	t := reflect.TypeOf(iface)
	if t == nil {
		return b.fail("ioc: Provides requires a typed value, got untyped nil")
	}
	if t.Kind() == reflect.Ptr && t.Elem().Kind() == reflect.Interface {
		t = t.Elem()
	}
	b.provides = t
	return b
}

// Qualifier sets the discriminator other components use to pick this one among
// same-type candidates.
func (b *Builder) Qualifier(q string) *Builder {
	b.qualifier = q
	return b
}

// Tags adds capability tags. Tagged components are resolved as a group through
// ResolveTagged.
func (b *Builder) Tags(tags ...string) *Builder {
	b.tags = append(b.tags, tags...)
	return b
}

// Stereotype applies a tag bundle.
func (b *Builder) Stereotype(s Stereotype) *Builder {
	b.tags = append(b.tags, s.tags...)
	return b
}

// InScope sets the component's scope. The default is Singleton.
func (b *Builder) InScope(k ScopeKind) *Builder {
	b.scope = k
	b.scopeSet = true
	return b
}

// Eager marks a singleton for construction during Start instead of on first
// resolve, so wiring mistakes surface at startup.
func (b *Builder) Eager() *Builder {
	b.eager = true
	return b
}

func (b *Builder) setKind(k constructionKind) *Builder {
	if b.kindSet {
		return b.fail("ioc: component [%s]: construction style set twice", b.id)
	}
	b.kind = k
	b.kindSet = true
	return b
}

// UseConstructor registers a constructor function. Every parameter becomes an
// injection point resolved by its type; the function must return the component,
// or the component and an error.
func (b *Builder) UseConstructor(fn any) *Builder {
	b.fn = fn
	return b.setKind(kindConstructor)
}

// UseFactory registers an externally supplied factory for types not under the
// registrant's control (database handles, SDK clients). Same function contract
// as UseConstructor; zero-parameter factories are common.
func (b *Builder) UseFactory(fn any) *Builder {
	b.fn = fn
	return b.setKind(kindFactory)
}

// UseValue registers a prebuilt instance. Named external configuration values
// enter the container this way.
func (b *Builder) UseValue(v any) *Builder {
	b.value = v
	return b.setKind(kindValue)
}

// UseStruct registers a bare struct prototype, pointer to struct. Exported
// fields carrying the inject tag become injection points:
//
//	type Server struct {
//	    Cache Cache        `inject:"fast"`            // by type, qualified
//	    Repo  UserRepo     `inject:""`                // by type
//	    Addr  string       `inject:"value:env.ADDR"`  // by value key
//	    Audit AuditLog     `inject:",optional"`       // zero value if absent
//	}
func (b *Builder) UseStruct(prototype any) *Builder {
	b.proto = prototype
	return b.setKind(kindStruct)
}

func (b *Builder) override(i int, mut func(*argOverride)) *Builder {
	if b.overrides == nil {
		b.overrides = make(map[int]argOverride)
	}
	o := b.overrides[i]
	mut(&o)
	b.overrides[i] = o
	return b
}

// QualifyArg narrows constructor/factory parameter i to candidates carrying the
// qualifier.
func (b *Builder) QualifyArg(i int, q string) *Builder {
	return b.override(i, func(o *argOverride) { o.qualifier = q; o.hasQualifier = true })
}

// OptionalArg lets constructor/factory parameter i receive its zero value when
// no candidate is registered.
func (b *Builder) OptionalArg(i int) *Builder {
	return b.override(i, func(o *argOverride) { o.optional = true })
}

// ValueArg pins constructor/factory parameter i to an explicit component id or
// external-value key.
func (b *Builder) ValueArg(i int, key string) *Builder {
	return b.override(i, func(o *argOverride) { o.byID = key })
}

// OnDestroy registers a teardown hook invoked when the owning scope is exited
// or the container shuts down.
func (b *Builder) OnDestroy(fn DestroyFunc) *Builder {
	b.destroy = fn
	return b
}

// ── Descriptor assembly ───────────────────────────────────────────────────────

// Descriptor validates the builder and produces the immutable registration
// record. Container.Register calls this; it is exported for callers that stage
// descriptors themselves.
func (b *Builder) Descriptor() (*Descriptor, error) {
	if b.err != nil {
		return nil, b.err
	}
	if !b.kindSet {
		return nil, errors.Errorf("ioc: component [%s]: no construction style (use UseConstructor, UseFactory, UseValue or UseStruct)", b.id)
	}

	d := &Descriptor{
		qualifier: b.qualifier,
		scope:     b.scope,
		eager:     b.eager,
		tags:      dedupeTags(b.tags),
		kind:      b.kind,
		destroy:   b.destroy,
	}

	var err error
	switch b.kind {
	case kindConstructor, kindFactory:
		err = b.buildFunc(d)
	case kindValue:
		err = b.buildValue(d)
	case kindStruct:
		err = b.buildStruct(d)
	}
	if err != nil {
		return nil, err
	}

	if b.provides != nil {
		if !d.typ.AssignableTo(b.provides) {
			return nil, errors.Errorf("ioc: component [%s]: %s does not implement %s",
				b.id, typeName(d.typ), typeName(b.provides))
		}
		d.typ = b.provides
	}

	if b.eager && d.scope != Singleton {
		return nil, errors.Errorf("ioc: component [%s]: Eager applies to singletons only", b.id)
	}
	if d.destroy != nil && d.scope == Prototype {
		return nil, errors.Errorf("ioc: component [%s]: prototypes are never torn down, OnDestroy would not run", b.id)
	}
	if len(b.overrides) > 0 && b.kind != kindConstructor && b.kind != kindFactory {
		return nil, errors.Errorf("ioc: component [%s]: argument overrides apply to constructors and factories only", b.id)
	}

	d.id = b.id
	if d.id == "" {
		d.id = typeName(d.typ)
		if d.qualifier != "" {
			d.id += ":" + d.qualifier
		}
	}
	return d, nil
}

func (b *Builder) buildFunc(d *Descriptor) error {
	fv := reflect.ValueOf(b.fn)
	if !fv.IsValid() || fv.Kind() != reflect.Func {
		return errors.Errorf("ioc: component [%s]: constructor must be a function, got %T", b.id, b.fn)
	}
	ft := fv.Type()
	if ft.IsVariadic() {
		return errors.Errorf("ioc: component [%s]: variadic constructors are not supported", b.id)
	}
	switch ft.NumOut() {
	case 1:
		if ft.Out(0) == errType {
			return errors.Errorf("ioc: component [%s]: constructor must return a component, not only an error", b.id)
		}
	case 2:
		if ft.Out(1) != errType {
			return errors.Errorf("ioc: component [%s]: second return value must be error, got %s", b.id, ft.Out(1))
		}
	default:
		return errors.Errorf("ioc: component [%s]: constructor must return (T) or (T, error), got %d values", b.id, ft.NumOut())
	}

	d.fn = fv
	d.typ = ft.Out(0)
	d.points = make([]InjectionPoint, ft.NumIn())
	for i := 0; i < ft.NumIn(); i++ {
		p := InjectionPoint{Type: ft.In(i)}
		if o, ok := b.overrides[i]; ok {
			if o.hasQualifier {
				p.Qualifier = o.qualifier
			}
			p.Optional = o.optional
			p.ByID = o.byID
		}
		d.points[i] = p
	}
	for i := range b.overrides {
		if i < 0 || i >= ft.NumIn() {
			return errors.Errorf("ioc: component [%s]: argument override index %d out of range (%d parameters)", b.id, i, ft.NumIn())
		}
	}
	return nil
}

func (b *Builder) buildValue(d *Descriptor) error {
	if b.value == nil {
		return errors.Errorf("ioc: component [%s]: UseValue requires a non-nil value", b.id)
	}
	d.value = b.value
	d.typ = reflect.TypeOf(b.value)
	return nil
}

func (b *Builder) buildStruct(d *Descriptor) error {
	t := reflect.TypeOf(b.proto)
	if t == nil || t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return errors.Errorf("ioc: component [%s]: UseStruct requires a pointer to struct, got %T", b.id, b.proto)
	}
	elem := t.Elem()
	d.proto = elem
	d.typ = t

	for i := 0; i < elem.NumField(); i++ {
		f := elem.Field(i)
		tag, ok := f.Tag.Lookup(injectTag)
		if !ok {
			continue
		}
		if f.PkgPath != "" {
			return errors.Errorf("ioc: component [%s]: inject tag on unexported field %s.%s", b.id, elem.Name(), f.Name)
		}
		p := parseInjectTag(tag)
		p.Type = f.Type
		p.field = f.Name
		d.points = append(d.points, p)
	}
	return nil
}

// injectTag is the struct tag marking injected fields.
const injectTag = "inject"

// parseInjectTag decodes the tag forms "<qualifier>", "value:<key>" and the
// ",optional" suffix.
func parseInjectTag(tag string) InjectionPoint {
	var p InjectionPoint
	if rest, ok := strings.CutSuffix(tag, ",optional"); ok {
		p.Optional = true
		tag = rest
	}
	if key, ok := strings.CutPrefix(tag, "value:"); ok {
		p.ByID = key
		return p
	}
	p.Qualifier = tag
	return p
}

func dedupeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// ── Reflect helpers ───────────────────────────────────────────────────────────

var errType = reflect.TypeOf((*error)(nil)).Elem()

// TypeKey returns the package-qualified type name of v, the stable default id
// for components registered without one. Pass a nil interface pointer to name
// an interface:
//
//	key := ioc.TypeKey((*UserRepository)(nil)) // "myapp/repo.UserRepository"
func TypeKey(v any) string {
	t := reflect.TypeOf(v)
	if t != nil && t.Kind() == reflect.Ptr && t.Elem().Kind() == reflect.Interface {
		t = t.Elem()
	}
	return typeName(t)
}

// typeName renders a reflect.Type with its package path, falling back to the
// built-in rendering for unnamed types.
func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	if t.Kind() == reflect.Ptr {
		return "*" + typeName(t.Elem())
	}
	if t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}
