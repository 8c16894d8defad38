package module

import (
	"context"
	"fmt"
	"io"

	"github.com/GoCodeAlone/modular"
)

// Lifecycle is anything with a start and a stop, such as an event publisher
// or a file watcher.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Component registers a Lifecycle as a modular module and service.
type Component struct {
	name        string
	description string
	inner       Lifecycle
	logger      modular.Logger
}

// NewComponent wraps inner under the given module name.
func NewComponent(name, description string, inner Lifecycle) *Component {
	return &Component{name: name, description: description, inner: inner, logger: &noopLogger{}}
}

// Name returns the module name.
func (c *Component) Name() string { return c.name }

// Init captures the application logger.
func (c *Component) Init(app modular.Application) error {
	c.logger = app.Logger()
	return nil
}

// Start starts the wrapped component.
func (c *Component) Start(ctx context.Context) error {
	if err := c.inner.Start(ctx); err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	c.logger.Info("component started", "module", c.name)
	return nil
}

// Stop stops the wrapped component.
func (c *Component) Stop(ctx context.Context) error {
	if err := c.inner.Stop(ctx); err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	c.logger.Info("component stopped", "module", c.name)
	return nil
}

// Instance returns the wrapped component.
func (c *Component) Instance() Lifecycle { return c.inner }

// ProvidesServices exposes the wrapped component under the module name.
func (c *Component) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{
			Name:        c.name,
			Description: c.description,
			Instance:    c.inner,
		},
	}
}

// RequiresServices returns the services required by this module.
func (c *Component) RequiresServices() []modular.ServiceDependency {
	return nil
}

// closer adapts an io.Closer that is already open, such as a database
// handle, to Lifecycle.
type closer struct{ c io.Closer }

func (closer) Start(context.Context) error  { return nil }
func (c closer) Stop(context.Context) error { return c.c.Close() }

// NewCloser registers an already-open resource so the application closes it
// on shutdown.
func NewCloser(name, description string, c io.Closer) *Component {
	return NewComponent(name, description, closer{c: c})
}
