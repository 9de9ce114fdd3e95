// Command artifact-cache is a caching proxy for Maven repositories that
// resolves requests against named build policies.
package main

import (
	"github.com/alecthomas/kong"
)

var version = "dev"

// Globals are flags shared by every command.
type Globals struct {
	Config   string `short:"c" help:"Path to a TOML or YAML config file." env:"ARTIFACT_CACHE_CONFIG" type:"path"`
	LogLevel string `help:"Override the configured log level (debug, info, warn, error)."`
}

type cli struct {
	Globals

	Version kong.VersionFlag `help:"Print the version and exit."`

	Serve       ServeCmd       `cmd:"" default:"1" help:"Run the caching proxy."`
	CheckConfig CheckConfigCmd `cmd:"" help:"Validate the configuration and print the build policies."`
	Fetch       FetchCmd       `cmd:"" help:"Resolve one file through the cache."`
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("artifact-cache"),
		kong.Description("Caching proxy for Maven repositories."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)
	err := ctx.Run(&c.Globals)
	ctx.FatalIfErrorf(err)
}
