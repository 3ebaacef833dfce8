// Demo service showing the container end to end: providers, environment
// values, qualified resolution, request/session scopes and graceful teardown.
//
//	go run ./example
//	curl localhost:8080/greet/ada
//	curl -c jar -b jar localhost:8080/visits
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	ioc "github.com/km-arc/go-ioc"
	"github.com/km-arc/go-ioc/envsource"
	"github.com/km-arc/go-ioc/httpscope"
)

// ── Domain ────────────────────────────────────────────────────────────────────

// Greeter renders a greeting. Two implementations are registered under
// different qualifiers.
type Greeter interface {
	Greet(name string) string
}

type PlainGreeter struct{ greeting string }

func NewPlainGreeter(greeting string) *PlainGreeter { return &PlainGreeter{greeting: greeting} }

func (g *PlainGreeter) Greet(name string) string { return g.greeting + ", " + name }

type LoudGreeter struct{ inner Greeter }

func NewLoudGreeter(inner Greeter) *LoudGreeter { return &LoudGreeter{inner: inner} }

func (g *LoudGreeter) Greet(name string) string { return g.inner.Greet(name) + "!!!" }

// VisitCounter counts one browser session's requests. SessionScoped, so every
// session gets its own.
type VisitCounter struct{ n atomic.Int64 }

func NewVisitCounter() *VisitCounter { return &VisitCounter{} }

func (v *VisitCounter) Visit() int64 { return v.n.Add(1) }

// AuditLog is a singleton with a destroy hook, flushed at shutdown.
type AuditLog struct {
	log     logrus.FieldLogger
	entries atomic.Int64
}

func NewAuditLog(log logrus.FieldLogger) *AuditLog { return &AuditLog{log: log} }

func (a *AuditLog) Record(event string) {
	a.entries.Add(1)
	a.log.WithField("event", event).Debug("audit event")
}

func (a *AuditLog) Flush(ctx context.Context) error {
	a.log.WithField("entries", a.entries.Load()).Info("audit log flushed")
	return nil
}

// ── Providers ─────────────────────────────────────────────────────────────────

type ConfigProvider struct{ ioc.BaseProvider }

func (p *ConfigProvider) Register(c *ioc.Container) error {
	if err := envsource.Var(c, "APP_NAME", "ioc-demo"); err != nil {
		return err
	}
	if err := envsource.Var(c, "APP_PORT", "8080"); err != nil {
		return err
	}
	return envsource.Var(c, "GREETING", "hello")
}

type AppProvider struct {
	ioc.BaseProvider
	Log logrus.FieldLogger
}

func (p *AppProvider) Register(c *ioc.Container) error {
	c.MustRegister(ioc.Component("log").UseValue(p.Log))

	c.MustRegister(ioc.Component("greeter.plain").
		Provides((*Greeter)(nil)).
		Qualifier("plain").
		UseConstructor(NewPlainGreeter).
		ValueArg(0, "env.GREETING"))

	c.MustRegister(ioc.Component("greeter.loud").
		Provides((*Greeter)(nil)).
		Qualifier("loud").
		UseConstructor(NewLoudGreeter).
		QualifyArg(0, "plain"))

	c.MustRegister(ioc.Component("visits").
		InScope(ioc.SessionScoped).
		UseConstructor(NewVisitCounter))

	c.MustRegister(ioc.Component("audit").
		Eager().
		UseConstructor(NewAuditLog).
		ValueArg(0, "log").
		OnDestroy(func(ctx context.Context, v any) error {
			return v.(*AuditLog).Flush(ctx)
		}))
	return nil
}

func (p *AppProvider) Boot(ctx context.Context, c *ioc.Container) error {
	name, err := ioc.Resolve[string](ctx, c, "env.APP_NAME")
	if err != nil {
		return err
	}
	p.Log.WithField("app", name).Info("application booted")
	return nil
}

// ── Main ──────────────────────────────────────────────────────────────────────

func main() {
	log := logrus.New()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := ioc.New(ioc.WithLogger(log))
	if err := ioc.Bootstrap(ctx, c, &ConfigProvider{}, &AppProvider{Log: log}); err != nil {
		log.Fatal(err)
	}

	scopes := httpscope.New(c, httpscope.WithSessions(), httpscope.WithLogger(log))
	r := scopes.Router()

	r.Get("/greet/{name}", func(w http.ResponseWriter, req *http.Request) {
		greeter, err := ioc.ResolveQualified[Greeter](req.Context(), c, qualifierFor(req))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		audit := ioc.MustResolve[*AuditLog](req.Context(), c, "audit")
		audit.Record("greet")
		fmt.Fprintln(w, greeter.Greet(chi.URLParam(req, "name")))
	})

	r.Get("/visits", func(w http.ResponseWriter, req *http.Request) {
		visits, err := httpscope.ResolveType[*VisitCounter](c, req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "visits this session: %d\n", visits.Visit())
	})

	r.Get("/logout", func(w http.ResponseWriter, req *http.Request) {
		if err := scopes.EndSession(w, req); err != nil {
			log.WithError(err).Warn("ending session")
		}
		fmt.Fprintln(w, "session ended")
	})

	port := ioc.MustResolve[string](ctx, c, "env.APP_PORT")
	srv := &http.Server{Addr: ":" + port, Handler: r}

	go func() {
		log.WithField("addr", srv.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	if err := srv.Shutdown(context.Background()); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := c.Shutdown(context.Background()); err != nil {
		log.WithError(err).Warn("container shutdown")
	}
}

func qualifierFor(req *http.Request) string {
	if req.URL.Query().Get("loud") != "" {
		return "loud"
	}
	return "plain"
}
