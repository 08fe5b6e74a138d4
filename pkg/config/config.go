package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/expand"
	"github.com/core-tools/hsu-procman/pkg/logging"
)

const (
	// Implicit per-file variables injected into every pipeline of a document
	VariableThisConfig    = "THIS_CFG"
	VariableThisExtension = "THIS_EXT"

	// UnboundedInstances is the "instances" value meaning restart forever
	UnboundedInstances = "*"
)

// Override binds a variable from the command line, NAME=VALUE
type Override struct {
	Name  string
	Value string
}

// Count replaces an instance or parallel count for one pipeline, IDENTITY=N
type Count struct {
	Identity string
	Count    int
}

// ParseOverride splits NAME=VALUE at the first '='. VALUE may be empty.
func ParseOverride(arg string) (Override, error) {
	name, value, _ := strings.Cut(arg, "=")
	if name == "" {
		return Override{}, errors.NewValidationError("variable name is empty", nil).WithContext("argument", arg)
	}
	return Override{Name: name, Value: value}, nil
}

// ParseCount parses IDENTITY=N with a positive N
func ParseCount(arg string) (Count, error) {
	identity, value, found := strings.Cut(arg, "=")
	if !found || identity == "" {
		return Count{}, errors.NewValidationError("expected identity=count", nil).WithContext("argument", arg)
	}
	count, err := strconv.Atoi(value)
	if err != nil {
		return Count{}, errors.NewValidationError("count is not an integer", err).WithContext("argument", arg)
	}
	if count <= 0 {
		return Count{}, errors.NewValidationError("count must be positive", nil).WithContext("argument", arg)
	}
	return Count{Identity: identity, Count: count}, nil
}

// Options controls how configuration documents are turned into pipelines
type Options struct {
	Overrides []Override
	Instances []Count
	Parallel  []Count
	Expander  *expand.Expander
}

// PipelineConfig is one fully resolved pipeline. Commands may still hold
// launch-time adjustments such as $<instance>.
type PipelineConfig struct {
	Identity string
	// Required instance count, ignored when Unbounded
	Instances int
	// Restart forever ("instances": "*")
	Unbounded bool
	Parallel  int
	// Parallel was given as a boolean: one slot per required instance
	ParallelAll bool
	Commands    [][]string
	Variables   expand.Bindings
	RequiredBy  []string
}

// Slots returns the number of parallel instance slots
func (p PipelineConfig) Slots() int {
	if p.ParallelAll {
		if p.Unbounded {
			return 1
		}
		return p.Instances
	}
	if p.Parallel <= 0 {
		return 1
	}
	return p.Parallel
}

// IsRequiredBy reports whether identity lists p as a prerequisite
func (p PipelineConfig) IsRequiredBy(identity string) bool {
	for _, dependent := range p.RequiredBy {
		if dependent == identity {
			return true
		}
	}
	return false
}

// ExpectConfig is the raw "expect" section
type ExpectConfig struct {
	CleanShutdown []string
	ExitCode      map[string]int
	RunTime       map[string][]string
	XPath         map[string][]string
}

// Composition is the loaded and resolved configuration of one run
type Composition struct {
	Pipelines []PipelineConfig
	Expect    ExpectConfig
	// Document is the merged configuration with pipelines in resolved form
	Document Value
}

// PrintJSON writes the resolved document
func (c *Composition) PrintJSON(w io.Writer) error {
	return c.Document.WriteJSON(w)
}

// LoadFile decodes one document, choosing YAML or JSON by extension
func LoadFile(path string) (Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Value{}, errors.NewIOError("failed to read configuration file", err).WithContext("config_file", path)
	}

	var document Value
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		document, err = DecodeYAML(data)
	default:
		document, err = DecodeJSON(data)
	}
	if err != nil {
		return Value{}, errors.NewConfigurationError("failed to parse configuration file", err).WithContext("config_file", path)
	}
	if document.Kind != KindMap {
		return Value{}, errors.NewConfigurationError("configuration document is not an object", nil).WithContext("config_file", path)
	}
	return document, nil
}

// Load reads, merges and resolves the given documents in order. Broken files
// and pipelines are logged and skipped. An error is returned only when files
// were given and none of them could be loaded.
func Load(paths []string, opts Options, logger logging.Logger) (*Composition, error) {
	if opts.Expander == nil {
		opts.Expander = expand.New(expand.Options{})
	}

	full := NewMap()
	loadErrors := errors.NewErrorCollection()
	loaded := 0
	for _, path := range paths {
		document, err := LoadFile(path)
		if err != nil {
			logger.Errorf("Skipping configuration, path: %s, error: %v", path, err)
			loadErrors.Add(err)
			continue
		}
		injectImplicitVariables(&document, path)
		full = Merge(full, document)
		loaded++
		logger.Debugf("Configuration merged, path: %s", path)
	}
	if len(paths) > 0 && loaded == 0 {
		return nil, loadErrors.ToError()
	}

	return Resolve(full, opts, logger)
}

// Resolve turns a merged document into pipelines and expectations
func Resolve(full Value, opts Options, logger logging.Logger) (*Composition, error) {
	if opts.Expander == nil {
		opts.Expander = expand.New(expand.Options{})
	}

	document := full.Clone()
	if document.Kind != KindMap {
		return nil, errors.NewConfigurationError("configuration document is not an object", nil)
	}

	globals, err := globalBindings(document)
	if err != nil {
		return nil, err
	}

	composition := &Composition{}
	if pipelines, found := document.Get("pipelines"); found && pipelines.Kind == KindList {
		printable := make([]Value, 0, len(pipelines.List))
		for index, raw := range pipelines.List {
			pipeline, resolved, err := resolvePipeline(index, raw, globals, opts)
			if err != nil {
				logger.Errorf("Skipping pipeline, index: %d, identity: %s, error: %v", index, pipeline.Identity, err)
				printable = append(printable, raw)
				continue
			}
			composition.Pipelines = append(composition.Pipelines, pipeline)
			printable = append(printable, resolved)
		}
		document.Set("pipelines", List(printable...))
	}

	composition.Expect = extractExpectations(document, logger)
	composition.Document = document

	return composition, nil
}

func injectImplicitVariables(document *Value, path string) {
	pipelines, found := document.Get("pipelines")
	if !found || pipelines.Kind != KindList {
		return
	}

	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	items := make([]Value, len(pipelines.List))
	for i, item := range pipelines.List {
		item = item.Clone()
		if item.Kind == KindMap {
			variables, found := item.Get("variables")
			if !found || variables.Kind != KindMap {
				variables = NewMap()
			}
			variables.Delete(VariableThisExtension)
			variables.Delete(VariableThisConfig)
			variables.Prepend(VariableThisExtension, String(ext))
			variables.Prepend(VariableThisConfig, String(stem))
			item.Set("variables", variables)
		}
		items[i] = item
	}
	document.Set("pipelines", List(items...))
}

func globalBindings(document Value) (expand.Bindings, error) {
	bindings := make(expand.Bindings)
	variables, found := document.Get("variables")
	if !found {
		return bindings, nil
	}
	if variables.Kind != KindMap {
		return nil, errors.NewConfigurationError("\"variables\" must be an object", nil)
	}
	for _, name := range variables.Keys() {
		value, _ := variables.Get(name)
		values, err := value.Strings()
		if err != nil {
			return nil, errors.NewConfigurationError("invalid global variable", err).WithContext("variable", name)
		}
		if value.Kind == KindList {
			bindings[name] = expand.List(values...)
		} else if binding, ok := expand.FromValues(values); ok {
			bindings[name] = binding
		}
	}
	return bindings, nil
}

// resolvePipeline returns the config, and the raw document entry rewritten
// with resolved variables and commands for printing
func resolvePipeline(index int, raw Value, globals expand.Bindings, opts Options) (PipelineConfig, Value, error) {
	pipeline := PipelineConfig{
		Identity:  fmt.Sprintf("pipeline-%d", index),
		Instances: 1,
		Parallel:  1,
	}
	if raw.Kind != KindMap {
		return pipeline, raw, errors.NewConfigurationError("pipeline entry is not an object", nil)
	}
	resolved := raw.Clone()

	if identity, found := raw.Get("identity"); found {
		text, ok := identity.Scalar()
		if !ok || text == "" {
			return pipeline, raw, errors.NewConfigurationError("invalid pipeline identity", nil)
		}
		pipeline.Identity = text
	}

	// Variables see globals and everything resolved before them
	variables := globals.Clone()
	if declared, found := raw.Get("variables"); found {
		if declared.Kind != KindMap {
			return pipeline, raw, errors.NewConfigurationError("\"variables\" must be an object", nil)
		}
		for _, name := range declared.Keys() {
			value, _ := declared.Get(name)
			templates, err := value.Strings()
			if err != nil {
				return pipeline, raw, errors.NewConfigurationError("invalid variable", err).WithContext("variable", name)
			}
			values, err := opts.Expander.Resolve(templates, variables)
			if err != nil {
				return pipeline, raw, err
			}
			if binding, ok := expand.FromValues(values); ok {
				variables[name] = binding
			}
		}
	}
	for _, override := range opts.Overrides {
		variables[override.Name] = expand.Scalar(override.Value)
	}
	pipeline.Variables = variables

	if err := resolveCounts(&pipeline, raw, opts); err != nil {
		return pipeline, raw, err
	}

	commands, err := commandTemplates(raw)
	if err != nil {
		return pipeline, raw, err
	}
	for i, templates := range commands {
		args, err := opts.Expander.Resolve(templates, variables)
		if err != nil {
			return pipeline, raw, err
		}
		if len(args) == 0 {
			return pipeline, raw, errors.NewConfigurationError("command resolves to an empty argument list", nil).
				WithContext("command", i)
		}
		pipeline.Commands = append(pipeline.Commands, args)
	}

	if requiredBy, found := raw.Get("required_by"); found {
		identities, err := requiredBy.Strings()
		if err != nil {
			return pipeline, raw, errors.NewConfigurationError("invalid required_by", err)
		}
		pipeline.RequiredBy = identities
	}

	resolved.Set("variables", bindingsValue(variables))
	resolved.Delete("command")
	resolved.Set("commands", commandsValue(pipeline.Commands))
	if pipeline.Unbounded {
		resolved.Set("instances", String(UnboundedInstances))
	} else {
		resolved.Set("instances", Number(float64(pipeline.Instances)))
	}
	if !pipeline.ParallelAll {
		resolved.Set("parallel", Number(float64(pipeline.Parallel)))
	}

	return pipeline, resolved, nil
}

func resolveCounts(pipeline *PipelineConfig, raw Value, opts Options) error {
	if instances, found := raw.Get("instances"); found {
		switch {
		case instances.Kind == KindString && instances.Text == UnboundedInstances:
			pipeline.Unbounded = true
		case instances.Kind == KindNumber:
			count, ok := instances.Int()
			if !ok || count <= 0 {
				return errors.NewConfigurationError("\"instances\" must be a positive integer or \"*\"", nil).
					WithContext("value", instances.Text)
			}
			pipeline.Instances = count
		default:
			return errors.NewConfigurationError("\"instances\" must be a positive integer or \"*\"", nil)
		}
	}

	if parallel, found := raw.Get("parallel"); found {
		switch parallel.Kind {
		case KindBool:
			pipeline.ParallelAll = parallel.Bool
		case KindNumber:
			count, ok := parallel.Int()
			if !ok || count <= 0 {
				return errors.NewConfigurationError("\"parallel\" must be a positive integer or a boolean", nil).
					WithContext("value", parallel.Text)
			}
			pipeline.Parallel = count
		default:
			return errors.NewConfigurationError("\"parallel\" must be a positive integer or a boolean", nil)
		}
	}

	for _, override := range opts.Instances {
		if override.Identity == pipeline.Identity {
			pipeline.Instances = override.Count
			pipeline.Unbounded = false
		}
	}
	for _, override := range opts.Parallel {
		if override.Identity == pipeline.Identity {
			pipeline.Parallel = override.Count
			pipeline.ParallelAll = false
		}
	}
	return nil
}

// commandTemplates reads "commands" (a list of argument lists) or "command" (one argument list)
func commandTemplates(raw Value) ([][]string, error) {
	if commands, found := raw.Get("commands"); found {
		if commands.Kind != KindList {
			return nil, errors.NewConfigurationError("\"commands\" must be a list of argument lists", nil)
		}
		result := make([][]string, 0, len(commands.List))
		for _, command := range commands.List {
			templates, err := command.Strings()
			if err != nil {
				return nil, errors.NewConfigurationError("invalid command", err)
			}
			result = append(result, templates)
		}
		if len(result) == 0 {
			return nil, errors.NewConfigurationError("pipeline has no commands", nil)
		}
		return result, nil
	}

	if command, found := raw.Get("command"); found {
		templates, err := command.Strings()
		if err != nil {
			return nil, errors.NewConfigurationError("invalid command", err)
		}
		return [][]string{templates}, nil
	}

	return nil, errors.NewConfigurationError("pipeline has no commands", nil)
}

func bindingsValue(bindings expand.Bindings) Value {
	result := NewMap()
	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		binding := bindings[name]
		if binding.IsList {
			items := make([]Value, len(binding.Values))
			for i, item := range binding.Values {
				items[i] = String(item)
			}
			result.Set(name, List(items...))
		} else {
			result.Set(name, String(binding.String()))
		}
	}
	return result
}

func commandsValue(commands [][]string) Value {
	items := make([]Value, len(commands))
	for i, command := range commands {
		args := make([]Value, len(command))
		for j, arg := range command {
			args[j] = String(arg)
		}
		items[i] = List(args...)
	}
	return List(items...)
}

// extractExpectations reads the "expect" section. Malformed entries are
// logged and skipped; the well-formed ones are kept.
func extractExpectations(document Value, logger logging.Logger) ExpectConfig {
	result := ExpectConfig{
		ExitCode: make(map[string]int),
		RunTime:  make(map[string][]string),
		XPath:    make(map[string][]string),
	}
	skip := func(err error) {
		logger.Errorf("Skipping expectation, error: %v", err)
	}

	expect, found := document.Get("expect")
	if !found {
		return result
	}
	if expect.Kind != KindMap {
		skip(errors.NewConfigurationError("\"expect\" must be an object", nil))
		return result
	}

	if cleanShutdown, found := expect.Get("clean_shutdown"); found {
		identities, err := cleanShutdown.Strings()
		if err != nil {
			skip(errors.NewConfigurationError("invalid clean_shutdown expectation", err))
		} else {
			result.CleanShutdown = identities
		}
	}

	if exitCodes, found := expect.Get("exit_code"); found {
		if exitCodes.Kind != KindMap {
			skip(errors.NewConfigurationError("\"exit_code\" must be an object", nil))
		} else {
			for _, identity := range exitCodes.Keys() {
				value, _ := exitCodes.Get(identity)
				code, ok := value.Int()
				if !ok {
					skip(errors.NewConfigurationError("exit code must be an integer", nil).
						WithContext("identity", identity))
					continue
				}
				result.ExitCode[identity] = code
			}
		}
	}

	for _, key := range []string{"run_time", "xpath"} {
		target := result.RunTime
		if key == "xpath" {
			target = result.XPath
		}
		section, found := expect.Get(key)
		if !found {
			continue
		}
		if section.Kind != KindMap {
			skip(errors.NewConfigurationError(fmt.Sprintf("%q must be an object", key), nil))
			continue
		}
		for _, identity := range section.Keys() {
			value, _ := section.Get(identity)
			definitions, err := value.Strings()
			if err != nil {
				skip(errors.NewConfigurationError("invalid expectation", err).
					WithContext("section", key).
					WithContext("identity", identity))
				continue
			}
			target[identity] = append(target[identity], definitions...)
		}
	}

	return result
}
