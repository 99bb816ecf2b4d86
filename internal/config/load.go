package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Format is a config file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatCUE  Format = "cue"
)

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported config extension %q (want .yaml, .yml, .toml or .cue)", filepath.Ext(path))
	}
}

// Load reads, decodes, defaults and validates a config file.
func Load(path string) (*Config, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data, format, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data in the given format, applies defaults and validates.
// name is used in CUE error positions.
func Parse(data []byte, format Format, name string) (*Config, error) {
	var (
		cfg Config
		err error
	)
	switch format {
	case FormatYAML:
		err = decodeYAML(data, &cfg)
	case FormatTOML:
		err = decodeTOML(data, &cfg)
	case FormatCUE:
		err = decodeCUE(data, name, &cfg)
	default:
		err = fmt.Errorf("unsupported config format %q", format)
	}
	if err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("config is empty")
		}
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

func decodeTOML(data []byte, cfg *Config) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return fmt.Errorf("decode toml: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return fmt.Errorf("decode toml: unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

func decodeCUE(data []byte, name string, cfg *Config) error {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(name))
	if err := v.Err(); err != nil {
		return fmt.Errorf("compile cue: %w", err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("cue value is not concrete: %w", err)
	}
	b, err := v.MarshalJSON()
	if err != nil {
		return fmt.Errorf("export cue: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode cue: %w", err)
	}
	return nil
}

// Validate checks a defaulted config against the embedded CUE schema, then
// semantically: the topology must build and cameras must be consistent.
func Validate(cfg *Config) error {
	if err := validateSchema(cfg); err != nil {
		return err
	}
	if _, err := cfg.Topology(); err != nil {
		return fmt.Errorf("topology: %w", err)
	}
	return validateCameras(cfg)
}

func validateSchema(cfg *Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	val := ctx.CompileBytes(data, cue.Filename("config"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("compile config: %w", err)
	}

	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}

func validateCameras(cfg *Config) error {
	if len(cfg.Cameras) == 0 {
		return nil
	}

	declared := make(map[string]bool, len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		id := strings.TrimSpace(cam.ID)
		if declared[id] {
			return fmt.Errorf("camera %q declared twice", id)
		}
		declared[id] = true
		if cam.Source.Kind == SourceMQTT && cfg.MQTT.Broker == "" {
			return fmt.Errorf("camera %q: mqtt source needs mqtt.broker", id)
		}
	}

	for _, r := range cfg.Regions {
		if !declared[strings.TrimSpace(r.Camera)] {
			return fmt.Errorf("region %q: camera %q is not declared", r.ID, r.Camera)
		}
	}
	return nil
}

// TopicFor returns the MQTT topic a camera's source subscribes to.
func (c *Config) TopicFor(cam CameraConfig) string {
	if cam.Source.Topic != "" {
		return cam.Source.Topic
	}
	return c.MQTT.TopicPrefix + "/" + cam.ID + "/occupancy"
}
