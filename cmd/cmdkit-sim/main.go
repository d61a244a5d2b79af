package main

import (
	"os"

	_ "go.uber.org/automaxprocs"
	"k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/cmdkit/cmd/cmdkit-sim/app"
)

func main() {
	ctx := server.SetupSignalContext()
	if err := app.NewSimCommand(ctx).Execute(); err != nil {
		os.Exit(1)
	}
}
