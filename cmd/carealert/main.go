package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"carealert/internal/app"
	"carealert/internal/clock"
	"carealert/internal/config"
)

// main starts the caregiver alert client using file or directory config source.
// Params: CLI flags (--config-file or --config-dir, optional --logout).
// Returns: process exit code by startup/run result.
func main() {
	var (
		configFile = flag.String("config-file", "", "path to one TOML config file")
		configDir  = flag.String("config-dir", "", "path to directory with TOML config fragments")
		logout     = flag.Bool("logout", false, "erase last seen alert id and acknowledgment locks, then exit")
	)
	flag.Parse()

	source, err := config.FromCLI(*configFile, *configDir)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	service, err := app.NewService(source, clock.RealClock{})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service init failed:", err.Error())
		os.Exit(1)
	}

	if *logout {
		if err := service.Logout(context.Background()); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, "logout failed:", err.Error())
			os.Exit(1)
		}
		return
	}

	if err := service.Run(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service run failed:", err.Error())
		os.Exit(1)
	}
}
