/*
Command pricectl inspects and exercises the valuation artifacts from a shell.

Usage:

	pricectl [command]

Available Commands:

	schema    Show the installed feature list and artifact generation
	inspect   Run the fixed diagnostic record and print every intermediate vector
	estimate  Price one car described by flags
	reload    Ask running services to reload their artifacts over NATS

Examples:

	pricectl schema --models ./models
	pricectl estimate --brand Toyota --fuel Petrol --age 5 --json
	pricectl reload --nats nats://localhost:4222 --reason "retrained"
*/
package main

import (
	"fmt"
	"os"

	"github.com/WessleyAI/wessley-valuation/pkg/config"
)

// Version information (set via ldflags during build)
var version = "dev"

func main() {
	root := newRootCmd(config.Load())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
