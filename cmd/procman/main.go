package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	sprintfLogging "github.com/core-tools/hsu-core/pkg/logging/sprintf"
	flags "github.com/jessevdk/go-flags"

	"github.com/core-tools/hsu-procman/pkg/logging"
	"github.com/core-tools/hsu-procman/pkg/procman"
	"github.com/core-tools/hsu-procman/pkg/processfile"
)

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	describeConfigs(parser)

	_, err := parser.ParseArgs(argv)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	logger, closeLogger, err := newLogger(opts)
	if err != nil {
		fmt.Printf("Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	runOpts, err := runOptions(opts)
	if err != nil {
		logger.Errorf("Invalid arguments, error: %v", err)
		closeLogger()
		os.Exit(1)
	}

	result, err := procman.Run(context.Background(), runOpts, logger)
	if err != nil {
		logger.Errorf("Process manager failed, error: %v", err)
	}
	closeLogger()
	os.Exit(result)
}

// newLogger builds the supervisor logger from the --log-* flags
func newLogger(opts flagOptions) (logging.Logger, func(), error) {
	if opts.LogFormat == "plain" {
		plain := sprintfLogging.NewStdSprintfLogger()
		funcs := logging.LogFuncs{
			Infof:  plain.Infof,
			Warnf:  plain.Warnf,
			Errorf: plain.Errorf,
		}
		if opts.Debug {
			funcs.Debugf = plain.Debugf
		}
		return logging.NewLogger(logging.ModulePrefix("supervisor"), funcs), func() {}, nil
	}

	zapConfig := logging.DefaultZapConfig()
	zapConfig.Format = opts.LogFormat
	zapConfig.Output = opts.LogOutput
	if opts.Debug {
		zapConfig.Level = "debug"
		zapConfig.Caller = true
	}
	backend, err := logging.NewZapBackend(zapConfig)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewLogger(logging.ModulePrefix("supervisor"), backend.LogFuncs())
	return logger, func() { _ = backend.Sync() }, nil
}

// describeConfigs documents the config lookup and the visible config names
func describeConfigs(parser *flags.Parser) {
	files := processfile.NewProcessFileManager(processfile.ProcessFileConfig{}, logging.NewNopLogger())
	args := parser.Args()
	if len(args) == 0 {
		return
	}
	args[0].Description = fmt.Sprintf(
		"Path or name of a configuration file, merged in command-line order. "+
			"Names are looked up at %s with extensions %s. Visible configs: %s",
		strings.Join(files.ConfigSearchPaths("NAME"), ", "),
		strings.Join(processfile.DefaultConfigExtensions, ", "),
		strings.Join(files.FindConfigNames(), ", "))
}
