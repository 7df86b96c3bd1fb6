package main

import (
	"context"
	"fmt"
	"os"

	app "github.com/valter-silva-au/devassist/internal"
	"github.com/valter-silva-au/devassist/internal/cli"
)

// Set by goreleaser ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, date)
	root := app.ResolveProjectRoot()

	a, err := app.NewApp(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing devassist: %v\n", err)
		os.Exit(1)
	}

	err = cli.Execute(context.Background())
	_ = a.Close()
	if err != nil {
		os.Exit(1)
	}
}
