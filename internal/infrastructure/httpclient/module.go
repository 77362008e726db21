package httpclient

import (
	"go.uber.org/fx"

	"signflow/internal/config"
)

func provideHMACSignature(cfg *config.Config) *HMACSignature {
	return NewHMACSignature(cfg.Webhook.Secret)
}

var Module = fx.Module("httpclient",
	fx.Provide(NewHTTPClient),
	fx.Provide(provideHMACSignature),
)
