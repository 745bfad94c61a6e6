package project

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// FileName is the project configuration file name expected in the project root.
const FileName = "ymir.yml"

const (
	TypeWordPress = "wordpress"
	TypeBedrock   = "bedrock"
)

// bedrockBuildCommand is the build command every new bedrock environment starts with.
const bedrockBuildCommand = "COMPOSER_MIRROR_PATH_REPOS=1 composer install"

// document mirrors the ymir.yml file. Unknown top-level keys are kept in Extra.
type document struct {
	ID           int            `yaml:"id,omitempty"`
	Name         string         `yaml:"name,omitempty"`
	Type         string         `yaml:"type,omitempty"`
	Environments Environments   `yaml:"environments"`
	Extra        map[string]any `yaml:",inline"`
}

func (d *document) isEmpty() bool {
	return d.ID == 0 && d.Name == "" && d.Type == "" && d.Environments.Len() == 0 && len(d.Extra) == 0
}

// Configuration is the in-memory ymir.yml of a project.
type Configuration struct {
	fs      afero.Fs
	path    string
	doc     document
	deleted bool
}

// Load reads the configuration at path. A missing file yields an empty
// configuration; content that isn't a key-value document is ErrConfigInvalid.
func Load(fs afero.Fs, path string) (*Configuration, error) {
	c := &Configuration{fs: fs, path: path}

	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, fmt.Errorf("checking %s: %w", path, err)
	}
	if !exists {
		return c, nil
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c.doc); err != nil {
		return nil, fmt.Errorf("%w: error parsing %s: %v", ErrConfigInvalid, filepath.Base(path), err)
	}
	return c, nil
}

// Empty returns a configuration for path without reading it.
func Empty(fs afero.Fs, path string) *Configuration {
	return &Configuration{fs: fs, path: path}
}

// Use loads the configuration, hands it to fn and saves it when fn returns,
// on every exit path. Nothing is written when the configuration was deleted
// or is empty.
func Use(fs afero.Fs, path string, fn func(*Configuration) error) (err error) {
	cfg, err := Load(fs, path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cfg.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(cfg)
}

// Close persists the configuration unless it was deleted or is empty.
func (c *Configuration) Close() error {
	if c.deleted || c.doc.isEmpty() {
		return nil
	}
	return c.Save()
}

// Path returns the configuration file path.
func (c *Configuration) Path() string {
	return c.path
}

// Dir returns the project root directory.
func (c *Configuration) Dir() string {
	return filepath.Dir(c.path)
}

// Exists reports whether the configuration file is on disk.
func (c *Configuration) Exists() bool {
	ok, err := afero.Exists(c.fs, c.path)
	return err == nil && ok
}

// CreateNew replaces the configuration with a fresh project and saves it
// right away. An empty type defaults to wordpress.
func (c *Configuration) CreateNew(id int, name, typ string, environments []string) error {
	if typ == "" {
		typ = TypeWordPress
	}
	c.doc = document{ID: id, Name: name, Type: typ}
	c.deleted = false
	for _, env := range environments {
		c.AddEnvironment(env, nil)
	}
	return c.Save()
}

// Delete removes the configuration file and clears the document so that
// closing the configuration doesn't write it back.
func (c *Configuration) Delete() error {
	c.doc = document{}
	c.deleted = true
	if !c.Exists() {
		return nil
	}
	if err := c.fs.Remove(c.path); err != nil {
		return fmt.Errorf("removing %s: %w", c.path, err)
	}
	return nil
}

// AddEnvironment adds or replaces an environment. Bedrock projects get the
// composer install build command unless options set their own "build".
func (c *Configuration) AddEnvironment(name string, options Options) {
	if c.doc.Type == TypeBedrock {
		options = merge(Options{"build": []any{bedrockBuildCommand}}, options)
	}
	c.doc.Environments.Set(name, options)
}

// DeleteEnvironment removes an environment if present.
func (c *Configuration) DeleteEnvironment(name string) {
	c.doc.Environments.Delete(name)
}

// ApplyOptionsToEnvironments merges options into every environment, overwriting
// existing keys.
func (c *Configuration) ApplyOptionsToEnvironments(options Options) {
	for _, name := range c.doc.Environments.Names() {
		current, _ := c.doc.Environments.Get(name)
		c.doc.Environments.Set(name, merge(current, options))
	}
}

// ApplyOptionsToEnvironment merges options into a single environment.
func (c *Configuration) ApplyOptionsToEnvironment(name string, options Options) error {
	current, ok := c.doc.Environments.Get(name)
	if !ok {
		return EnvironmentNotFoundError{Name: name}
	}
	c.doc.Environments.Set(name, merge(current, options))
	return nil
}

// Environment returns the options of the named environment.
func (c *Configuration) Environment(name string) (Options, error) {
	opts, ok := c.doc.Environments.Get(name)
	if !ok {
		return nil, EnvironmentNotFoundError{Name: name}
	}
	return opts, nil
}

// HasEnvironment reports whether the named environment is configured.
func (c *Configuration) HasEnvironment(name string) bool {
	_, ok := c.doc.Environments.Get(name)
	return ok
}

// Environments returns the environment names in file order.
func (c *Configuration) Environments() []string {
	return c.doc.Environments.Names()
}

func (c *Configuration) ProjectID() (int, error) {
	if c.doc.ID == 0 {
		return 0, FieldMissingError{Field: "id"}
	}
	return c.doc.ID, nil
}

func (c *Configuration) ProjectName() (string, error) {
	if c.doc.Name == "" {
		return "", FieldMissingError{Field: "name"}
	}
	return c.doc.Name, nil
}

func (c *Configuration) ProjectType() (string, error) {
	if c.doc.Type == "" {
		return "", FieldMissingError{Field: "type"}
	}
	return c.doc.Type, nil
}

// Validate checks that the project is fully formed: the file exists, it has
// an id and at least one environment.
func (c *Configuration) Validate() error {
	if !c.Exists() {
		return fmt.Errorf("%w in %s", ErrConfigMissing, c.Dir())
	}
	if c.doc.ID == 0 {
		return ValidationError{Field: "id", Message: "is required"}
	}
	if c.doc.Environments.Len() == 0 {
		return ValidationError{Field: "environments", Message: "must have at least one environment"}
	}
	return nil
}

// Document returns the whole configuration as a plain map, the shape sent
// to the API when creating a deployment.
func (c *Configuration) Document() map[string]any {
	out := make(map[string]any, len(c.doc.Extra)+4)
	for k, v := range c.doc.Extra {
		out[k] = v
	}
	if c.doc.ID != 0 {
		out["id"] = c.doc.ID
	}
	if c.doc.Name != "" {
		out["name"] = c.doc.Name
	}
	if c.doc.Type != "" {
		out["type"] = c.doc.Type
	}
	out["environments"] = c.doc.Environments.toMap()
	return out
}

// Marshal renders the configuration as it would be written to disk.
func (c *Configuration) Marshal() ([]byte, error) {
	var node yaml.Node
	if err := node.Encode(&c.doc); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", FileName, err)
	}
	tildeNulls(&node)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", FileName, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", FileName, err)
	}
	return buf.Bytes(), nil
}

// Save writes the configuration to disk, replacing the existing file.
func (c *Configuration) Save() error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	return WriteAtomic(c.fs, c.path, data, 0o644)
}

// tildeNulls renders every null scalar as "~".
func tildeNulls(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null" {
		n.Value = "~"
		n.Style = 0
	}
	for _, child := range n.Content {
		tildeNulls(child)
	}
}
