// Package config loads pipeline definition files.
//
// A definition lists the source root, the output root and the ordered tasks
// of a pipeline. Files ending in .cue are evaluated with CUE; everything else
// is decoded as strict YAML. Both formats share one schema:
//
//	root: .
//	out: build
//	concurrency: 32
//	serve: {host: 0.0.0.0, port: 3001}
//	tasks:
//	  - source: ["src/**/*.scss", "!src/**/_*.scss"]
//	    transform: [{name: trim}, {name: prepend, arg: "/* generated */\n"}]
//	    staged: {ext: .css}
//	  - source: src/**/*
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/stagehand/internal/serve"
)

// DefaultFile is the definition file looked up when none is given.
const DefaultFile = "stagehand.yaml"

// DefaultOut is the output root used when a definition omits it.
const DefaultOut = "build"

// Config is a decoded pipeline definition.
type Config struct {
	// Root is the source tree all task patterns are relative to.
	// Load resolves it against the definition file's directory.
	Root string `yaml:"root" json:"root"`

	// Out is the output root, relative to Root unless absolute.
	Out string `yaml:"out" json:"out"`

	// Concurrency caps the files of one task processed at once.
	// Zero selects the pipeline default, negative means unbounded.
	Concurrency int `yaml:"concurrency" json:"concurrency"`

	Serve ServeConfig `yaml:"serve" json:"serve"`

	// Tasks run in order. At least one is required.
	Tasks []TaskConfig `yaml:"tasks" json:"tasks"`
}

// ServeConfig configures the static server.
type ServeConfig struct {
	Host string    `yaml:"host" json:"host"`
	Port int       `yaml:"port" json:"port"`
	TLS  TLSConfig `yaml:"tls" json:"tls"`
}

// TLSConfig holds certificate paths. Both or neither must be set.
type TLSConfig struct {
	Cert string `yaml:"cert" json:"cert"`
	Key  string `yaml:"key" json:"key"`
}

// TaskConfig is one task of the pipeline.
type TaskConfig struct {
	Source    Patterns          `yaml:"source" json:"source"`
	Transform []TransformConfig `yaml:"transform,omitempty" json:"transform,omitempty"`
	Staged    *StagedConfig     `yaml:"staged,omitempty" json:"staged,omitempty"`
}

// TransformConfig names a built-in transform and its arguments.
// Arg is shorthand for a single argument.
type TransformConfig struct {
	Name string   `yaml:"name" json:"name"`
	Arg  string   `yaml:"arg,omitempty" json:"arg,omitempty"`
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`
}

// StagedConfig selects exactly one staging mode.
type StagedConfig struct {
	Keep   bool   `yaml:"keep,omitempty" json:"keep,omitempty"`
	Rename string `yaml:"rename,omitempty" json:"rename,omitempty"`
	Ext    string `yaml:"ext,omitempty" json:"ext,omitempty"`
}

// Patterns is a glob pattern list. A single string decodes as a one-element
// list.
type Patterns []string

// UnmarshalYAML accepts a scalar or a sequence.
func (p *Patterns) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*p = Patterns{node.Value}
		return nil
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return err
	}
	*p = list
	return nil
}

// UnmarshalJSON accepts a string or an array. CUE decoding goes through it.
func (p *Patterns) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*p = Patterns{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*p = list
	return nil
}

// Error codes for definition loading.
const (
	ErrCodeNotFound = "E005" // Definition file not found
	ErrCodeParse    = "E008" // YAML or CUE syntax/evaluation error
	ErrCodeInvalid  = "E009" // Definition fails validation
)

// LoadError describes a definition that could not be loaded.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
	Err     error
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Load reads, decodes and validates a definition file. Root is resolved
// against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("definition file not found: %s", path), Err: err}
		}
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("failed to read definition file: %v", err), Err: err}
	}

	cfg, err := Parse(data, path)
	if err != nil {
		return nil, err
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, &LoadError{Code: ErrCodeInvalid, Message: err.Error(), Err: err}
	}
	if !filepath.IsAbs(cfg.Root) {
		cfg.Root = filepath.Join(base, cfg.Root)
	}
	return cfg, nil
}

// Parse decodes and validates a definition. name selects the format by
// extension and is used in error positions.
func Parse(data []byte, name string) (*Config, error) {
	var cfg Config
	var err error
	if strings.EqualFold(filepath.Ext(name), ".cue") {
		err = decodeCUE(data, name, &cfg)
	} else {
		err = decodeYAML(data, &cfg)
	}
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &LoadError{Code: ErrCodeInvalid, Message: err.Error(), Err: err}
	}
	return &cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(cfg); err != nil {
		return &LoadError{Code: ErrCodeParse, Message: fmt.Sprintf("failed to parse YAML: %v", err), Err: err}
	}
	return nil
}

func decodeCUE(data []byte, name string, cfg *Config) error {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(name))
	if err := v.Err(); err != nil {
		return cueLoadError("failed to compile CUE", err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return cueLoadError("CUE value is not concrete", err)
	}
	if err := v.Decode(cfg); err != nil {
		return cueLoadError("failed to decode CUE", err)
	}
	return nil
}

func cueLoadError(msg string, err error) *LoadError {
	le := &LoadError{Code: ErrCodeParse, Message: fmt.Sprintf("%s: %v", msg, err), Err: err}
	if ps := cueerrors.Positions(err); len(ps) > 0 {
		le.Pos = ps[0]
	}
	return le
}

func (c *Config) applyDefaults() {
	if c.Root == "" {
		c.Root = "."
	}
	if c.Out == "" {
		c.Out = DefaultOut
	}
	if c.Serve.Host == "" {
		c.Serve.Host = serve.DefaultHost
	}
	if c.Serve.Port == 0 {
		c.Serve.Port = serve.DefaultPort
	}
}

// Validate checks the definition. Staged blocks are not validated here:
// an invalid one is reported when the task is registered.
func (c *Config) Validate() error {
	if len(c.Tasks) == 0 {
		return fmt.Errorf("tasks list is required and must be non-empty")
	}
	if c.Serve.Port < 0 || c.Serve.Port > 65535 {
		return fmt.Errorf("serve.port %d out of range", c.Serve.Port)
	}
	if (c.Serve.TLS.Cert == "") != (c.Serve.TLS.Key == "") {
		return fmt.Errorf("serve.tls requires both cert and key")
	}

	for i, t := range c.Tasks {
		if len(t.Source) == 0 {
			return fmt.Errorf("tasks[%d]: source is required", i)
		}
		for _, pat := range t.Source {
			if strings.TrimSpace(pat) == "" {
				return fmt.Errorf("tasks[%d]: empty source pattern", i)
			}
		}
		for j, tr := range t.Transform {
			if _, err := buildTransform(tr); err != nil {
				return fmt.Errorf("tasks[%d].transform[%d]: %w", i, j, err)
			}
		}
	}
	return nil
}
