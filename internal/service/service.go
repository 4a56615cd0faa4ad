// Package service implements the HTTP-facing application services.
package service

import "github.com/google/wire"

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(
	NewResilienceService,
)
