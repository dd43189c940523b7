// Package config holds the settings of the serve command. Values come from
// flags and the environment first; an optional YAML file is decoded over them
// and the result is validated.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/units"
	"github.com/go-playground/validator/v10"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"
)

// Size is a byte count which decodes from strings such as "150MB".
type Size units.Base2Bytes

func (s *Size) UnmarshalYAML(n *yaml.Node) error {
	var raw string
	if err := n.Decode(&raw); err != nil {
		return err
	}
	v, err := units.ParseBase2Bytes(raw)
	if err != nil {
		return fmt.Errorf("size %q: %w", raw, err)
	}
	*s = Size(v)
	return nil
}

func (s Size) String() string { return units.Base2Bytes(s).String() }

type Config struct {
	Addr     string        `yaml:"addr"     validate:"required,hostname_port"`
	URL      string        `yaml:"url"      validate:"required,url"`
	Path     string        `yaml:"path"     validate:"required"`
	Lifetime time.Duration `yaml:"lifetime" validate:"gt=0"`
	Max      Size          `yaml:"max"      validate:"gt=0"`
	Cert     string        `yaml:"cert"     validate:"required_with=Key"`
	Key      string        `yaml:"key"      validate:"required_with=Cert"`
	Origins  []string      `yaml:"origins"  validate:"dive,required"`

	Store     Store     `yaml:"store"`
	Scheduler Scheduler `yaml:"scheduler"`
	Log       Log       `yaml:"log"`
}

type Store struct {
	Driver         string        `yaml:"driver"          validate:"oneof=redis bolt scylla"`
	RedisURL       string        `yaml:"redis_url"       validate:"required_if=Driver redis"`
	BoltPath       string        `yaml:"bolt_path"       validate:"required_if=Driver bolt"`
	ReapInterval   time.Duration `yaml:"reap_interval"   validate:"gt=0"`
	ScyllaHosts    []string      `yaml:"scylla_hosts"    validate:"required_if=Driver scylla"`
	ScyllaKeyspace string        `yaml:"scylla_keyspace"`
}

type Scheduler struct {
	Driver       string        `yaml:"driver"        validate:"oneof=memory redis"`
	Key          string        `yaml:"key"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
}

type Log struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	File  string `yaml:"file"`
}

// LoadEnv loads variables from .env files into the environment without
// overriding ones already set. Missing files are ignored.
func LoadEnv(names ...string) error {
	if len(names) == 0 {
		names = []string{".env"}
	}
	for _, name := range names {
		if err := gotenv.Load(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

// Load decodes the YAML file at path over cfg. Keys absent from the file keep
// their current values.
func Load(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Validate checks cfg and the cross-field rules tags can't express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Scheduler.Driver == "redis" && c.Store.Driver != "redis" && c.Store.RedisURL == "" {
		return errors.New("invalid config: redis scheduler needs a redis url")
	}
	return nil
}
