// File: bootstrap/options.go
// Package bootstrap defines functional options shared by Server and Client.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bootstrap

import (
	"log/slog"

	"github.com/momentics/hioload-pipeline/channel"
	"github.com/momentics/hioload-pipeline/core/concurrency"
)

// Option customizes a Server or Client.
type Option func(*options)

type options struct {
	recipe     Recipe
	init       channel.Initializer
	childGroup *concurrency.EventLoopGroup
	logger     *slog.Logger
}

// WithHandler appends a handler prototype to the connection pipeline.
func WithHandler(name string, h channel.Handler) Option {
	return func(o *options) { o.recipe = append(o.recipe, Stage{Name: name, Handler: h}) }
}

// WithRecipe appends every stage of r.
func WithRecipe(r Recipe) Option {
	return func(o *options) { o.recipe = append(o.recipe, r...) }
}

// WithInitializer runs init on every connection after the recipe is installed.
func WithInitializer(init channel.Initializer) Option {
	return func(o *options) { o.init = init }
}

// WithChildGroup runs accepted connections on g instead of the server's group.
func WithChildGroup(g *concurrency.EventLoopGroup) Option {
	return func(o *options) { o.childGroup = g }
}

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

func newOptions(component string, opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", component)
	return o
}

// initializer installs the recipe and then the user initializer.
func (o *options) initializer() channel.Initializer {
	return func(ch *channel.Channel) error {
		if err := o.recipe.Install(ch.Pipeline()); err != nil {
			return err
		}
		if o.init != nil {
			return o.init(ch)
		}
		return nil
	}
}
