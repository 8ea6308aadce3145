// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/dukex/crmflow/pkg/handlers"
	"github.com/dukex/crmflow/pkg/registry"
)

// NewRegistry registers the default handler of every step type. The handlers
// are returned too since they validate configs and publish their schemas.
func NewRegistry(logger *slog.Logger, clock handlers.Clock) (*registry.Registry, *handlers.Handlers) {
	reg := registry.NewRegistry(logger)

	h := handlers.New(logger, clock)
	h.Register(reg)

	return reg, h
}
