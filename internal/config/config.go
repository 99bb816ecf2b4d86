// Package config loads the static yardcam configuration: regions, End→Start
// compatibility, cameras, and the dispatch, MQTT, supervisor and journal
// settings.
//
// Files are YAML (.yaml, .yml), TOML (.toml) or CUE (.cue). Every format is
// decoded strictly, given defaults, checked against the embedded CUE schema,
// and finally checked semantically by building the region topology.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/yardcam/internal/dispatch"
	"github.com/roach88/yardcam/internal/occupancy"
	"github.com/roach88/yardcam/internal/region"
)

// Defaults applied to fields left empty.
const (
	DefaultGracePeriod      = 5 * time.Second
	DefaultSampleEvery      = 1
	DefaultModelProcessCode = "checking_camera_work"
	DefaultFromSystem       = "yardcam"
	DefaultOrderPrefix      = "yardcam"
	DefaultTopicPrefix      = "yardcam"
	DefaultInitialBackoff   = time.Second
	DefaultMaxBackoff       = 30 * time.Second
	DefaultHTTPAddr         = ":8080"
	DefaultJournalPath      = "yardcam.db"
)

// Source kinds.
const (
	SourceMQTT  = "mqtt"
	SourceLines = "lines"
)

// Config is the full static configuration.
type Config struct {
	DebounceThreshold int                 `yaml:"debounce_threshold" toml:"debounce_threshold" json:"debounce_threshold"`
	GracePeriod       Duration            `yaml:"grace_period" toml:"grace_period" json:"grace_period"`
	SampleEvery       int                 `yaml:"sample_every" toml:"sample_every" json:"sample_every"`
	Dispatch          DispatchConfig      `yaml:"dispatch" toml:"dispatch" json:"dispatch"`
	Regions           []RegionConfig      `yaml:"regions" toml:"regions" json:"regions"`
	Compatibility     map[string][]string `yaml:"compatibility" toml:"compatibility" json:"compatibility"`
	Cameras           []CameraConfig      `yaml:"cameras" toml:"cameras" json:"cameras"`
	MQTT              MQTTConfig          `yaml:"mqtt" toml:"mqtt" json:"mqtt"`
	Supervisor        SupervisorConfig    `yaml:"supervisor" toml:"supervisor" json:"supervisor"`
	Journal           JournalConfig       `yaml:"journal" toml:"journal" json:"journal"`
	HTTP              HTTPConfig          `yaml:"http" toml:"http" json:"http"`
}

// DispatchConfig configures the outbound work-order client.
type DispatchConfig struct {
	URL              string   `yaml:"url" toml:"url" json:"url"`
	Timeout          Duration `yaml:"timeout" toml:"timeout" json:"timeout"`
	ModelProcessCode string   `yaml:"model_process_code" toml:"model_process_code" json:"model_process_code"`
	FromSystem       string   `yaml:"from_system" toml:"from_system" json:"from_system"`
	OrderPrefix      string   `yaml:"order_prefix" toml:"order_prefix" json:"order_prefix"`
	SuccessField     string   `yaml:"success_field" toml:"success_field" json:"success_field"`
	SuccessValue     string   `yaml:"success_value" toml:"success_value" json:"success_value"`
}

// RegionConfig declares one region.
type RegionConfig struct {
	ID     string `yaml:"id" toml:"id" json:"id"`
	Role   string `yaml:"role" toml:"role" json:"role"`
	Camera string `yaml:"camera" toml:"camera" json:"camera"`
}

// CameraConfig declares one camera worker and where its observations come from.
type CameraConfig struct {
	ID     string       `yaml:"id" toml:"id" json:"id"`
	Source SourceConfig `yaml:"source" toml:"source" json:"source"`
}

// SourceConfig selects an observation source.
// kind "mqtt" subscribes to Topic (default <topic_prefix>/<camera>/occupancy);
// kind "lines" reads JSON lines from Path, optionally paced by Interval.
type SourceConfig struct {
	Kind     string   `yaml:"kind" toml:"kind" json:"kind"`
	Topic    string   `yaml:"topic,omitempty" toml:"topic" json:"topic,omitempty"`
	Path     string   `yaml:"path,omitempty" toml:"path" json:"path,omitempty"`
	Interval Duration `yaml:"interval,omitempty" toml:"interval" json:"interval,omitempty"`
}

// MQTTConfig configures the broker connection shared by MQTT sources.
type MQTTConfig struct {
	Broker      string `yaml:"broker" toml:"broker" json:"broker"`
	ClientID    string `yaml:"client_id" toml:"client_id" json:"client_id"`
	TopicPrefix string `yaml:"topic_prefix" toml:"topic_prefix" json:"topic_prefix"`
	QoS         int    `yaml:"qos" toml:"qos" json:"qos"`
}

// SupervisorConfig configures camera worker restarts.
// MaxRetries 0 means unlimited.
type SupervisorConfig struct {
	InitialBackoff Duration `yaml:"initial_backoff" toml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff" toml:"max_backoff" json:"max_backoff"`
	MaxRetries     int      `yaml:"max_retries" toml:"max_retries" json:"max_retries"`
}

// JournalConfig locates the SQLite dispatch journal. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path" toml:"path" json:"path"`
}

// HTTPConfig configures the status API.
// CORSOrigins lists browser origins allowed to read it; empty disables CORS.
type HTTPConfig struct {
	Addr        string   `yaml:"addr" toml:"addr" json:"addr"`
	CORSOrigins []string `yaml:"cors_origins,omitempty" toml:"cors_origins" json:"cors_origins,omitempty"`
}

// ApplyDefaults fills every empty field with its default.
func (c *Config) ApplyDefaults() {
	if c.DebounceThreshold == 0 {
		c.DebounceThreshold = occupancy.DefaultThreshold
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = Duration(DefaultGracePeriod)
	}
	if c.SampleEvery == 0 {
		c.SampleEvery = DefaultSampleEvery
	}
	if c.Dispatch.Timeout == 0 {
		c.Dispatch.Timeout = Duration(dispatch.DefaultTimeout)
	}
	if c.Dispatch.ModelProcessCode == "" {
		c.Dispatch.ModelProcessCode = DefaultModelProcessCode
	}
	if c.Dispatch.FromSystem == "" {
		c.Dispatch.FromSystem = DefaultFromSystem
	}
	if c.Dispatch.OrderPrefix == "" {
		c.Dispatch.OrderPrefix = DefaultOrderPrefix
	}
	if c.Dispatch.SuccessField == "" {
		c.Dispatch.SuccessField = dispatch.DefaultSuccessField
	}
	if c.Dispatch.SuccessValue == "" {
		c.Dispatch.SuccessValue = dispatch.DefaultSuccessValue
	}
	if c.Compatibility == nil {
		c.Compatibility = map[string][]string{}
	}
	if c.Regions == nil {
		c.Regions = []RegionConfig{}
	}
	if c.Cameras == nil {
		c.Cameras = []CameraConfig{}
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = DefaultTopicPrefix
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "yardcam"
	}
	if c.Supervisor.InitialBackoff == 0 {
		c.Supervisor.InitialBackoff = Duration(DefaultInitialBackoff)
	}
	if c.Supervisor.MaxBackoff == 0 {
		c.Supervisor.MaxBackoff = Duration(DefaultMaxBackoff)
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
}

// Topology builds the closed region registry declared by the config.
func (c *Config) Topology() (*region.Topology, error) {
	regions := make([]region.Region, 0, len(c.Regions))
	for _, r := range c.Regions {
		role, err := region.ParseRole(r.Role)
		if err != nil {
			return nil, fmt.Errorf("region %q: %w", r.ID, err)
		}
		regions = append(regions, region.Region{
			ID:     region.Normalize(r.ID),
			Role:   role,
			Camera: strings.TrimSpace(r.Camera),
		})
	}

	compat := make(map[region.ID][]region.ID, len(c.Compatibility))
	for end, starts := range c.Compatibility {
		ids := make([]region.ID, len(starts))
		for i, s := range starts {
			ids[i] = region.Normalize(s)
		}
		compat[region.Normalize(end)] = ids
	}

	return region.NewTopology(regions, compat)
}

// DispatchClientConfig converts the dispatch section for dispatch.NewHTTPClient.
func (c *Config) DispatchClientConfig() dispatch.Config {
	return dispatch.Config{
		URL:              c.Dispatch.URL,
		Timeout:          c.Dispatch.Timeout.Std(),
		ModelProcessCode: c.Dispatch.ModelProcessCode,
		FromSystem:       c.Dispatch.FromSystem,
		OrderPrefix:      c.Dispatch.OrderPrefix,
		SuccessField:     c.Dispatch.SuccessField,
		SuccessValue:     c.Dispatch.SuccessValue,
	}
}

// CameraRegions returns the region ids owned by each camera.
func (c *Config) CameraRegions() map[string][]region.ID {
	out := make(map[string][]region.ID)
	for _, r := range c.Regions {
		cam := strings.TrimSpace(r.Camera)
		out[cam] = append(out[cam], region.Normalize(r.ID))
	}
	return out
}

// Duration is a time.Duration written as a Go duration string ("5s", "1m30s").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler (used by TOML and JSON).
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string like \"5s\"", node.Line)
	}
	return d.UnmarshalText([]byte(node.Value))
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}
	return d.UnmarshalText([]byte(s))
}
