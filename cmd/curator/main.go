// Command curator is the command-line interface for curator.
package main

import (
	"strconv"

	"github.com/alecthomas/kong"
	"gitlab.com/tozd/go/cli"
	"gitlab.com/tozd/go/errors"

	"gitlab.com/daxserver/curator"
)

func main() {
	var config curator.Config
	cli.Run(&config, kong.Vars{
		"defaultProxyTo":           curator.DefaultProxyTo,
		"defaultTLSCache":          curator.DefaultTLSCache,
		"defaultSchema":            curator.DefaultSchema,
		"defaultTitle":             curator.DefaultTitle,
		"defaultAdminUsername":     curator.DefaultAdminUsername,
		"defaultWorkerConcurrency": strconv.Itoa(curator.DefaultWorkerConcurrency),
	}, func(ctx *kong.Context) errors.E {
		return errors.WithStack(ctx.Run(&config.Globals))
	})
}
