package project

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Options is the open key-value document attached to an environment.
// A nil Options is a valid environment with nothing configured.
type Options map[string]any

// merge returns a new Options holding base overlaid with override.
// Keys in override win on collision.
func merge(base, override Options) Options {
	if base == nil && override == nil {
		return nil
	}
	out := make(Options, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Environments is an insertion-ordered mapping of environment name to options.
// Lookups are by name; order only matters when writing the file.
type Environments struct {
	names   []string
	options map[string]Options
}

// Len returns the number of environments.
func (e *Environments) Len() int {
	return len(e.names)
}

// Names returns the environment names in insertion order.
func (e *Environments) Names() []string {
	out := make([]string, len(e.names))
	copy(out, e.names)
	return out
}

// Get returns the options for name and whether the environment exists.
func (e *Environments) Get(name string) (Options, bool) {
	opts, ok := e.options[name]
	return opts, ok
}

// Set adds or replaces an environment. Replacing keeps the original position.
func (e *Environments) Set(name string, opts Options) {
	if e.options == nil {
		e.options = make(map[string]Options)
	}
	if _, ok := e.options[name]; !ok {
		e.names = append(e.names, name)
	}
	e.options[name] = opts
}

// Delete removes name. Deleting an absent environment is a no-op.
func (e *Environments) Delete(name string) {
	if _, ok := e.options[name]; !ok {
		return
	}
	delete(e.options, name)
	for i, n := range e.names {
		if n == name {
			e.names = append(e.names[:i], e.names[i+1:]...)
			break
		}
	}
}

// UnmarshalYAML decodes a mapping node while keeping key order.
func (e *Environments) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("environments must be a mapping, got %s", value.ShortTag())
	}
	*e = Environments{}
	for i := 0; i+1 < len(value.Content); i += 2 {
		name := value.Content[i].Value
		var opts Options
		if err := value.Content[i+1].Decode(&opts); err != nil {
			return fmt.Errorf("environment %q: %w", name, err)
		}
		e.Set(name, opts)
	}
	return nil
}

// MarshalYAML encodes the environments as a mapping in insertion order.
func (e Environments) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, name := range e.names {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}
		value := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "~"}
		if opts := e.options[name]; opts != nil {
			if err := value.Encode(map[string]any(opts)); err != nil {
				return nil, fmt.Errorf("encoding environment %q: %w", name, err)
			}
		}
		node.Content = append(node.Content, key, value)
	}
	return node, nil
}

// toMap returns a plain map view used for API payloads.
func (e *Environments) toMap() map[string]any {
	out := make(map[string]any, len(e.names))
	for _, name := range e.names {
		if opts := e.options[name]; opts != nil {
			out[name] = map[string]any(opts)
		} else {
			out[name] = nil
		}
	}
	return out
}
