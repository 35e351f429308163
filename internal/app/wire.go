//go:build wireinject

package app

import (
	"context"

	"github.com/google/wire"

	"marlin/internal/config"
)

func buildAppWithWire(ctx context.Context, settings *config.Settings, botID int64) (*App, error) {
	wire.Build(
		NewBuilder,
		provideAppFromBuilder,
	)
	return nil, nil
}
