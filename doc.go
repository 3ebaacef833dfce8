// Package ioc provides an Inversion-of-Control container for Go: a sealed
// component registry plus a reflection-driven dependency resolver with
// scoped instance caches.
//
// # Overview
//
// Components are registered with fluent descriptors, wired by declared type
// and qualifier, and cached per scope: Singleton, Prototype, RequestScoped,
// SessionScoped or ApplicationScoped. Registration happens single-threaded at
// startup and ends with Seal; resolution is lock-light and safe from any
// goroutine afterwards.
//
// # Container Lifecycle
//
//  1. Create: c := ioc.New()
//  2. Register: c.MustRegister(ioc.Component(...)...), or via providers
//  3. Seal: c.Seal()           — registry becomes immutable
//  4. Start: c.Start(ctx)      — application scope + eager singletons
//  5. Resolve from anywhere
//  6. Shutdown: c.Shutdown(ctx) — reverse-order teardown
//
// Bootstrap runs steps 2–4 over a provider list in one call.
//
// # Registering
//
//	// Constructor injection: parameters are resolved by type.
//	c.MustRegister(ioc.Component("users").
//	    Provides((*UserRepository)(nil)).
//	    UseConstructor(NewPgUserRepository)) // func(db *sql.DB) (*PgUserRepository, error)
//
//	// Factory, for types not under your control.
//	c.MustRegister(ioc.Component("db").UseFactory(func() (*sql.DB, error) {
//	    return sql.Open("postgres", dsn)
//	}).OnDestroy(func(ctx context.Context, v any) error {
//	    return v.(*sql.DB).Close()
//	}))
//
//	// Prebuilt value.
//	c.MustRegister(ioc.Component("env.PORT").UseValue("8080"))
//
//	// Bare struct with field injection.
//	c.MustRegister(ioc.Component("server").UseStruct(&Server{}))
//
//	type Server struct {
//	    Users UserRepository `inject:""`
//	    Cache Cache          `inject:"fast"`
//	    Port  string         `inject:"value:env.PORT"`
//	    Audit AuditLog       `inject:",optional"`
//	}
//
// # Qualifiers
//
// Two components may declare the same type; a qualifier picks between them.
// A qualified request matches only candidates carrying that exact qualifier:
// zero matches fail, several matches fail listing every candidate. There is
// no fallback to an unqualified "default".
//
//	c.MustRegister(ioc.Component("cache.fast").Provides((*Cache)(nil)).
//	    Qualifier("fast").UseConstructor(NewMemCache))
//	c.MustRegister(ioc.Component("cache.cold").Provides((*Cache)(nil)).
//	    Qualifier("cold").UseConstructor(NewDiskCache))
//
//	c.MustRegister(ioc.Component("feed").
//	    UseConstructor(NewFeed).   // func(c Cache) *Feed
//	    QualifyArg(0, "fast"))
//
// # Resolving
//
//	raw, err := c.Resolve(ctx, "cache.fast")            // any
//	fast, err := ioc.Resolve[Cache](ctx, c, "cache.fast")
//	repo, err := ioc.ResolveType[UserRepository](ctx, c)
//	cold, err := ioc.ResolveQualified[Cache](ctx, c, "cold")
//
// # Scopes
//
// Contextual scopes partition their caches by correlation token, carried in
// the context:
//
//	ctx, err := c.EnterScope(ctx, ioc.RequestScoped, ioc.NewToken())
//	defer c.ExitScope(context.Background(), ioc.RequestScoped, token)
//
//	tx, err := ioc.ResolveType[*RequestTx](ctx, c) // one per token
//
// Exiting a scope destroys its instances in reverse construction order,
// invoking OnDestroy hooks. The httpscope subpackage signals request and
// session boundaries from HTTP middleware.
//
// # Tags and Stereotypes
//
//	c.MustRegister(ioc.Component("report.cpu").Tags("reports").UseConstructor(NewCPUReport))
//	c.MustRegister(ioc.Component("report.mem").Tags("reports").UseConstructor(NewMemReport))
//	reports, err := ioc.ResolveTagged[Report](ctx, c, "reports")
//
// # Extend / Decorate
//
//	c.Extend("logger", func(instance any, c *ioc.Container) any {
//	    return &TimestampLogger{Inner: instance.(Logger)}
//	})
//
// # Service Providers
//
//	type AppProvider struct{ ioc.BaseProvider }
//
//	func (p *AppProvider) Register(c *ioc.Container) error {
//	    return c.Register(ioc.Component("mailer").UseConstructor(NewSMTPMailer))
//	}
//
//	c := ioc.New(ioc.WithLogger(log))
//	if err := ioc.Bootstrap(ctx, c, &AppProvider{}); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Shutdown(context.Background())
package ioc
