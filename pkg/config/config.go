package config

import (
	"flag"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/spf13/pflag"
)

type Config struct {
	Gateway Gateway
	Worker  Worker
	Room    Room
}

type Gateway struct {
	Debug      bool
	Monitoring Monitoring
	Origin     struct {
		PeerWs string
	}
	Server Server
	// how often each room dumps its status into the log
	StatusInterval time.Duration `default:"120s"`
}

// allows custom config path
var configPath string

// NewConfig loads the gateway configuration.
// Panics on a broken configuration file.
func NewConfig() (conf Config) {
	if err := LoadConfig(&conf, configPath); err != nil {
		panic(err)
	}
	conf.fixValues()
	return
}

// ParseFlags updates config values from passed runtime flags.
// Define own flags with default value set to the current config param.
// A custom config path (--conf) reloads the config before the other flags apply.
func (c *Config) ParseFlags() {
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	if err := c.parseFlags(pflag.CommandLine, os.Args[1:]); err != nil {
		panic(err)
	}
}

func (c *Config) parseFlags(fs *pflag.FlagSet, args []string) error {
	if path := confFlag(args); path != "" && path != configPath {
		var fresh Config
		if err := LoadConfig(&fresh, path); err != nil {
			return err
		}
		*c = fresh
		configPath = path
	}

	c.Gateway.Server.WithFlags(fs)
	fs.BoolVar(&c.Gateway.Debug, "debug", c.Gateway.Debug, "Enable debug logs")
	fs.IntVar(&c.Gateway.Monitoring.Port, "monitoring.port", c.Gateway.Monitoring.Port, "Monitoring server port")
	fs.IntVar(&c.Worker.Num, "workers", c.Worker.Num, "Number of media workers (0 is one per CPU)")
	fs.StringVar(&c.Worker.LogLevel, "worker.logLevel", c.Worker.LogLevel, "Media worker log level")
	fs.StringVarP(&configPath, "conf", "c", configPath, "Set custom configuration file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c.fixValues()
	return nil
}

// confFlag looks up only the config path in the args.
func confFlag(args []string) string {
	fs := pflag.NewFlagSet("conf", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	path := fs.StringP("conf", "c", "", "")
	_ = fs.Parse(args)
	return *path
}

// fixValues tries to fix some values otherwise hard to set externally.
func (c *Config) fixValues() {
	if c.Worker.Num <= 0 {
		c.Worker.Num = runtime.NumCPU()
	}
	if c.Worker.IoMode == "" {
		c.Worker.IoMode = IoModeSerial
	}
}
