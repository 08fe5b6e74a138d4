package main

import (
	"github.com/core-tools/hsu-procman/pkg/config"
	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/expand"
	"github.com/core-tools/hsu-procman/pkg/logchannel"
	"github.com/core-tools/hsu-procman/pkg/procman"
)

type flagOptions struct {
	Debug bool `short:"D" long:"debug" description:"Starts the process manager in debug mode"`

	Set       []string `short:"S" long:"set" value-name:"NAME=VALUE" description:"Overrides a configuration variable (repeatable)"`
	Instances []string `short:"I" long:"instances" value-name:"IDENTITY=COUNT" description:"Overrides the instance count of a pipeline (repeatable)"`
	Parallel  []string `short:"P" long:"parallel" value-name:"IDENTITY=COUNT" description:"Overrides the parallel instance count of a pipeline (repeatable)"`

	Cachegrind bool `long:"cachegrind" description:"Runs applications in valgrind --tool=cachegrind"`
	Callgrind  bool `long:"callgrind" description:"Runs applications in valgrind --tool=callgrind"`
	Memcheck   bool `long:"memcheck" description:"Runs applications in valgrind --tool=memcheck"`
	Massif     bool `long:"massif" description:"Runs applications in valgrind --tool=massif"`
	Helgrind   bool `long:"helgrind" description:"Runs applications in valgrind --tool=helgrind"`

	DryRun      bool `long:"dry-run" description:"Prints the pipelines and commands that would run without starting anything"`
	PrintConfig bool `short:"C" long:"print-config" description:"Prints the fully loaded and merged configuration"`

	ForwardLocal   string `short:"l" long:"forward-local-socket" optional:"yes" optional-value:"-" value-name:"PATH" description:"Forwards log traffic to a local socket, - for the default"`
	ForwardNetwork string `short:"n" long:"forward-network-socket" optional:"yes" optional-value:"-" value-name:"HOST:PORT" description:"Forwards log traffic to a network socket, - for the default"`
	ListenNetwork  string `long:"listen-network" value-name:"HOST:PORT" description:"Listens for logs on TCP instead of a local socket"`

	LogFormat string `long:"log-format" default:"console" choice:"console" choice:"json" choice:"plain" description:"Format of the supervisor's own log"`
	LogOutput string `long:"log-output" default:"stderr" description:"stdout, stderr or a file path"`

	Args struct {
		Configs []string `positional-arg-name:"config"`
	} `positional-args:"yes"`
}

// valgrindTool returns the selected profiling tool; at most one may be set
func (o flagOptions) valgrindTool() (string, error) {
	selected := ""
	for tool, set := range map[string]bool{
		"cachegrind": o.Cachegrind,
		"callgrind":  o.Callgrind,
		"memcheck":   o.Memcheck,
		"massif":     o.Massif,
		"helgrind":   o.Helgrind,
	} {
		if !set {
			continue
		}
		if selected != "" {
			return "", errors.NewValidationError("valgrind tools are mutually exclusive", nil).
				WithContext("first", selected).
				WithContext("second", tool)
		}
		selected = tool
	}
	return selected, nil
}

func (o flagOptions) forward() *logchannel.Forward {
	// The local socket wins when both are given
	if o.ForwardLocal != "" {
		return logchannel.LocalForward(o.ForwardLocal)
	}
	if o.ForwardNetwork != "" {
		return logchannel.NetworkForward(o.ForwardNetwork)
	}
	return nil
}

// runOptions converts parsed flags into supervisor options
func runOptions(o flagOptions) (procman.Options, error) {
	opts := procman.Options{
		Configs:       o.Args.Configs,
		DryRun:        o.DryRun,
		PrintConfig:   o.PrintConfig,
		Forward:       o.forward(),
		ListenNetwork: o.ListenNetwork,
	}

	for _, arg := range o.Set {
		override, err := config.ParseOverride(arg)
		if err != nil {
			return opts, err
		}
		opts.Overrides = append(opts.Overrides, override)
	}
	for _, arg := range o.Instances {
		count, err := config.ParseCount(arg)
		if err != nil {
			return opts, err
		}
		opts.Instances = append(opts.Instances, count)
	}
	for _, arg := range o.Parallel {
		count, err := config.ParseCount(arg)
		if err != nil {
			return opts, err
		}
		opts.Parallel = append(opts.Parallel, count)
	}

	tool, err := o.valgrindTool()
	if err != nil {
		return opts, err
	}
	opts.Wrapper = expand.ValgrindWrapper(tool)

	return opts, nil
}
