// Package flags provides the common startup plumbing every process in this
// module shares: log-level parsing, grounded on the teacher's pkg/flags.
package flags

import (
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// ConfigureAndParse adds flags common to all processes in this module
// (currently just -log-level) to cmd, parses args, and configures logrus
// accordingly. It should be called after all other flags have been added
// to cmd.
func ConfigureAndParse(cmd *flag.FlagSet, args []string) {
	logLevel := cmd.String("log-level", log.InfoLevel.String(),
		"log level, must be one of: panic, fatal, error, warn, info, debug")

	if err := cmd.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	setLogLevel(*logLevel)
}

func setLogLevel(logLevel string) {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("invalid log-level: %s", logLevel)
	}
	log.SetLevel(level)
}
