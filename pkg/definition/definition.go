// Package definition loads workflow graphs from YAML or JSON documents.
//
// A definition names its nodes, wires them with "node.key" connection
// endpoints and attaches cycle policies to anchor nodes:
//
//	name: countdown
//	nodes:
//	  - id: start
//	    type: constant
//	    config: {value: 0}
//	  - id: step
//	    type: increment
//	    config: {limit: 5}
//	connections:
//	  - from: start.value
//	    to: step.counter
//	  - from: step.counter
//	    to: step.counter
//	cycles:
//	  - anchor: step
//	    max_iterations: 10
//	    exit: {node: step, field: continue, is: false}
package definition

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Definition is the document form of a workflow graph.
type Definition struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description,omitempty"`
	Nodes       []NodeDef       `yaml:"nodes"`
	Connections []ConnectionDef `yaml:"connections,omitempty"`
	Cycles      []CycleDef      `yaml:"cycles,omitempty"`
	Entry       []string        `yaml:"entry,omitempty"`
}

// NodeDef declares a node instance.
type NodeDef struct {
	ID      string         `yaml:"id"`
	Type    string         `yaml:"type"`
	Config  map[string]any `yaml:"config,omitempty"`
	Timeout Duration       `yaml:"timeout,omitempty"`
	Retry   *RetryDef      `yaml:"retry,omitempty"`
}

// ConnectionDef wires an output to a parameter. From is "node" for the whole
// output mapping or "node.path" for a nested key; To is "node.parameter".
type ConnectionDef struct {
	From    string `yaml:"from"`
	To      string `yaml:"to"`
	Trigger bool   `yaml:"trigger,omitempty"`
}

// RetryDef declares a retry policy.
type RetryDef struct {
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval,omitempty"`
	MaxInterval     Duration `yaml:"max_interval,omitempty"`
	Multiplier      float64  `yaml:"multiplier,omitempty"`
}

// CycleDef declares the policy of the cyclic region containing Anchor.
type CycleDef struct {
	Anchor          string    `yaml:"anchor"`
	MaxIterations   int       `yaml:"max_iterations,omitempty"`
	OnLimit         string    `yaml:"on_limit,omitempty"`
	ContinueOnError bool      `yaml:"continue_on_error,omitempty"`
	Retry           *RetryDef `yaml:"retry,omitempty"`
	Exit            *ExitDef  `yaml:"exit,omitempty"`
}

// ExitDef declares a cycle exit condition on a node's output. Exactly one of
// Equals, Is or Script is set; Script is a JavaScript expression over `output`.
type ExitDef struct {
	Node   string `yaml:"node"`
	Field  string `yaml:"field,omitempty"`
	Equals any    `yaml:"equals,omitempty"`
	Is     *bool  `yaml:"is,omitempty"`
	Script string `yaml:"script,omitempty"`
}

// Duration accepts Go duration strings ("1.5s") or integer milliseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var ms int64
	if err := value.Decode(&ms); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string or milliseconds: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Parse decodes a YAML or JSON definition and validates it.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadFile reads and parses a definition file.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow definition: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Marshal encodes the definition as YAML.
func (def *Definition) Marshal() ([]byte, error) {
	return yaml.Marshal(def)
}

// Validate checks the document's referential integrity. Type and parameter
// checks happen when the graph is built against a registry.
func (def *Definition) Validate() error {
	if len(def.Nodes) == 0 {
		return fmt.Errorf("at least one node is required")
	}

	ids := make(map[string]bool, len(def.Nodes))
	for i, n := range def.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node %d: id is required", i)
		}
		if strings.Contains(n.ID, ".") {
			return fmt.Errorf("node %q: id cannot contain '.'", n.ID)
		}
		if n.Type == "" {
			return fmt.Errorf("node %q: type is required", n.ID)
		}
		if ids[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		if n.Timeout < 0 {
			return fmt.Errorf("node %q: timeout cannot be negative", n.ID)
		}
		if err := n.Retry.validate(); err != nil {
			return fmt.Errorf("node %q: %w", n.ID, err)
		}
		ids[n.ID] = true
	}

	for i, c := range def.Connections {
		from, _, err := c.source()
		if err != nil {
			return fmt.Errorf("connection %d: %w", i, err)
		}
		to, _, err := c.target()
		if err != nil {
			return fmt.Errorf("connection %d: %w", i, err)
		}
		if !ids[from] {
			return fmt.Errorf("connection %d references unknown source node %q", i, from)
		}
		if !ids[to] {
			return fmt.Errorf("connection %d references unknown target node %q", i, to)
		}
	}

	for _, id := range def.Entry {
		if !ids[id] {
			return fmt.Errorf("entry node %q not found in node list", id)
		}
	}

	anchors := make(map[string]bool, len(def.Cycles))
	for _, c := range def.Cycles {
		if !ids[c.Anchor] {
			return fmt.Errorf("cycle anchor %q not found in node list", c.Anchor)
		}
		if anchors[c.Anchor] {
			return fmt.Errorf("duplicate cycle anchor %q", c.Anchor)
		}
		anchors[c.Anchor] = true
		if c.MaxIterations < 0 {
			return fmt.Errorf("cycle %q: max_iterations cannot be negative", c.Anchor)
		}
		switch c.OnLimit {
		case "", "fail", "stop":
		default:
			return fmt.Errorf("cycle %q: on_limit must be fail or stop, got %q", c.Anchor, c.OnLimit)
		}
		if err := c.Retry.validate(); err != nil {
			return fmt.Errorf("cycle %q: %w", c.Anchor, err)
		}
		if err := c.Exit.validate(ids); err != nil {
			return fmt.Errorf("cycle %q: %w", c.Anchor, err)
		}
	}
	return nil
}

func (c ConnectionDef) source() (string, string, error) {
	if c.From == "" {
		return "", "", fmt.Errorf("from is required")
	}
	id, key, _ := strings.Cut(c.From, ".")
	return id, key, nil
}

func (c ConnectionDef) target() (string, string, error) {
	id, key, ok := strings.Cut(c.To, ".")
	if !ok || id == "" || key == "" {
		return "", "", fmt.Errorf("to must be node.parameter, got %q", c.To)
	}
	return id, key, nil
}

func (r *RetryDef) validate() error {
	if r == nil {
		return nil
	}
	if r.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}
	if r.InitialInterval < 0 || r.MaxInterval < 0 || r.Multiplier < 0 {
		return fmt.Errorf("retry intervals and multiplier cannot be negative")
	}
	return nil
}

func (e *ExitDef) validate(ids map[string]bool) error {
	if e == nil {
		return nil
	}
	if !ids[e.Node] {
		return fmt.Errorf("exit node %q not found in node list", e.Node)
	}
	set := 0
	if e.Equals != nil {
		set++
	}
	if e.Is != nil {
		set++
	}
	if e.Script != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exit must set exactly one of equals, is or script")
	}
	if e.Script == "" && e.Field == "" {
		return fmt.Errorf("exit field is required with equals or is")
	}
	return nil
}
