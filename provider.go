package ioc

import (
	"context"

	"github.com/pkg/errors"
)

// ── ServiceProvider interface ─────────────────────────────────────────────────

// ServiceProvider wires one feature's components into the container.
//
// Register runs during the registration phase, before Seal. Do not resolve
// anything there. Boot runs after Seal and Start, when every provider's
// components are registered and resolution is open.
//
//	type MailProvider struct{ ioc.BaseProvider }
//
//	func (p *MailProvider) Register(c *ioc.Container) error {
//	    return c.Register(ioc.Component("mailer").
//	        Provides((*Mailer)(nil)).
//	        UseConstructor(NewSMTPMailer))
//	}
//
//	func (p *MailProvider) Boot(ctx context.Context, c *ioc.Container) error {
//	    mailer, err := ioc.Resolve[Mailer](ctx, c, "mailer")
//	    if err != nil {
//	        return err
//	    }
//	    return mailer.Ping(ctx)
//	}
type ServiceProvider interface {
	// Register binds components into the container. No resolution here.
	Register(c *Container) error

	// Boot runs once the container is sealed and started. Safe to resolve.
	Boot(ctx context.Context, c *Container) error
}

// ── BaseProvider ──────────────────────────────────────────────────────────────

// BaseProvider is an embeddable no-op ServiceProvider. Embed it and override
// only the phases you need.
//
//	type MetricsProvider struct{ ioc.BaseProvider }
//	func (p *MetricsProvider) Register(c *ioc.Container) error { ... }
type BaseProvider struct{}

func (BaseProvider) Register(*Container) error { return nil }

func (BaseProvider) Boot(context.Context, *Container) error { return nil }

// ── Bootstrap ─────────────────────────────────────────────────────────────────

// Bootstrap runs the whole startup sequence: every provider's Register phase
// in order, Seal, Start (application scope + eager singletons), then every
// provider's Boot phase in the same order. The first failure aborts the
// sequence.
//
//	c := ioc.New(ioc.WithLogger(log))
//	if err := ioc.Bootstrap(ctx, c, &ConfigProvider{}, &MailProvider{}, &HTTPProvider{}); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Shutdown(context.Background())
func Bootstrap(ctx context.Context, c *Container, providers ...ServiceProvider) error {
	for _, p := range providers {
		if err := p.Register(c); err != nil {
			return errors.Wrapf(err, "ioc: register phase (%T)", p)
		}
	}
	if err := c.Seal(); err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	for _, p := range providers {
		if err := p.Boot(ctx, c); err != nil {
			return errors.Wrapf(err, "ioc: boot phase (%T)", p)
		}
	}
	return nil
}
