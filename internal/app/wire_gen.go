//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject

package app

import (
	"context"

	"marlin/internal/config"
)

func buildAppWithWire(ctx context.Context, settings *config.Settings, botID int64) (*App, error) {
	builder := NewBuilder(settings, botID)
	app, err := provideAppFromBuilder(builder, ctx)
	if err != nil {
		return nil, err
	}
	return app, nil
}

type appBuilder interface {
	Build(context.Context) (*App, error)
}

func provideAppFromBuilder(b appBuilder, ctx context.Context) (*App, error) {
	return b.Build(ctx)
}
