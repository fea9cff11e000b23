package main

import (
	"flag"

	"github.com/pkg/errors"
)

// Args holds the parsed command line options.
type Args struct {
	ConfigFile string
}

func getArgs() (Args, error) {
	configFile := flag.String("config", "", "Path to the configuration file.")

	flag.Parse()

	if *configFile == "" {
		flag.PrintDefaults()
		return Args{}, errors.New("no configuration file given")
	}

	return Args{ConfigFile: *configFile}, nil
}
