package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/drone/envsubst"
	dslog "github.com/grafana/dskit/log"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/pqlmon/pqlmon/modules/alertstore"
	"github.com/pqlmon/pqlmon/modules/runner"
	"github.com/pqlmon/pqlmon/modules/settings"
	"github.com/pqlmon/pqlmon/modules/sweeper"
)

type Config struct {
	LogLevel  dslog.Level `yaml:"log_level"`
	LogFormat string      `yaml:"log_format"`

	Settings settings.Config   `yaml:"settings"`
	Store    alertstore.Config `yaml:"alert_store"`
	Runner   runner.Config     `yaml:"runner"`
	Sweeper  sweeper.Config    `yaml:"sweeper"`
}

func (c *Config) RegisterFlagsAndApplyDefaults(f *flag.FlagSet) {
	c.LogLevel.RegisterFlags(f)
	c.LogFormat = "logfmt"

	c.Settings.RegisterFlagsAndApplyDefaults(f)
	c.Store.RegisterFlagsAndApplyDefaults(f)
	c.Runner.RegisterFlagsAndApplyDefaults(f)
	c.Sweeper.RegisterFlagsAndApplyDefaults(f)
}

func loadConfig() (*Config, error) {
	const (
		configFileOption      = "config.file"
		configExpandEnvOption = "config.expand-env"
	)

	var (
		configFile      string
		configExpandEnv bool
	)

	args := os.Args[1:]
	config := &Config{}

	// first get the config file
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&configFile, configFileOption, "", "")
	fs.BoolVar(&configExpandEnv, configExpandEnvOption, false, "")

	for len(args) > 0 {
		_ = fs.Parse(args)
		args = args[1:]
	}

	// load config defaults and register flags
	config.RegisterFlagsAndApplyDefaults(flag.CommandLine)

	// overlay the config file if specified
	if configFile != "" {
		buff, err := os.ReadFile(configFile)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %q", configFile)
		}

		if configExpandEnv {
			s, err := envsubst.EvalEnv(string(buff))
			if err != nil {
				return nil, errors.Wrap(err, "failed to expand env vars in config")
			}
			buff = []byte(s)
		}

		if err := yaml.UnmarshalStrict(buff, config); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file %q", configFile)
		}
	}

	// overlay cli flags last
	flag.Parse()

	return config, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
	flag.PrintDefaults()
}
