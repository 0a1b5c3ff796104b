// Package logging builds the single structured logger the CLI entry point
// constructs once and threads explicitly into the engine, replication, and
// façade packages.
package logging

import "go.uber.org/zap"

// New returns a production-configured logger when dev is false, or a more
// verbose, human-readable one when dev is true.
func New(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
