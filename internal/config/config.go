package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	KindVideo = "video"
	KindAudio = "audio"

	InheritanceInherited = "inherited"
	InheritanceProfile   = "profile-specific"
	InheritanceGlobal    = "global"
)

type DefinitionsConfig struct {
	Devices []DeviceDefinition `mapstructure:"devices" yaml:"devices"`
}

type DeviceDefinition struct {
	ID        string `mapstructure:"id" yaml:"id"`
	Name      string `mapstructure:"name" yaml:"name"`
	Kind      string `mapstructure:"kind" yaml:"kind"`     // "video", "audio"
	Format    string `mapstructure:"format" yaml:"format"` // ffmpeg input format: v4l2, pulse, alsa, avfoundation, dshow, lavfi
	Source    string `mapstructure:"source" yaml:"source"`
	Framerate int    `mapstructure:"framerate" yaml:"framerate,omitempty"`
	VideoSize string `mapstructure:"video_size" yaml:"video_size,omitempty"`
}

type DeviceReference struct {
	Ref       string  `mapstructure:"ref" yaml:"ref"`
	Source    *string `mapstructure:"source,omitempty" yaml:"source,omitempty"`
	Framerate *int    `mapstructure:"framerate,omitempty" yaml:"framerate,omitempty"`
}

type GlobalsConfig struct {
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`
}

type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig            `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Definitions  *DefinitionsConfig        `mapstructure:"definitions,omitempty" yaml:"definitions,omitempty"`
	Configs      map[string]*ConfigProfile `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Backend   BackendConfig   `mapstructure:"backend" yaml:"backend"`
	Interview InterviewConfig `mapstructure:"interview" yaml:"interview"`
	Devices   []Device        `mapstructure:"devices" yaml:"devices"`
	Capture   CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	Preview   PreviewConfig   `mapstructure:"preview" yaml:"preview"`

	// Internal field to track inheritance information for info command
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type ConfigProfile struct {
	Backend   BackendConfig     `mapstructure:"backend" yaml:"backend"`
	Interview InterviewConfig   `mapstructure:"interview" yaml:"interview"`
	Devices   []DeviceReference `mapstructure:"devices" yaml:"devices"`
	Capture   CaptureConfig     `mapstructure:"capture" yaml:"capture"`
	Preview   PreviewConfig     `mapstructure:"preview" yaml:"preview"`
}

type InheritanceInfo struct {
	Backend struct {
		BaseURL string
		Timeout string
	}
	Interview struct {
		QuestionLimit string
	}
	Capture struct {
		Container  string
		VideoCodec string
		AudioCodec string
	}
	Preview struct {
		Listen string
	}
	Devices map[string]string // device name -> source inheritance
}

type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type InterviewConfig struct {
	QuestionLimit int `mapstructure:"question_limit" yaml:"question_limit"`
}

type Device struct {
	Name      string `mapstructure:"name" yaml:"name"`
	Kind      string `mapstructure:"kind" yaml:"kind"`
	Format    string `mapstructure:"format" yaml:"format"`
	Source    string `mapstructure:"source" yaml:"source"`
	Framerate int    `mapstructure:"framerate" yaml:"framerate,omitempty"`
	VideoSize string `mapstructure:"video_size" yaml:"video_size,omitempty"`
}

type CaptureConfig struct {
	FFmpegPath  string        `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
	Container   string        `mapstructure:"container" yaml:"container"` // muxer written to the pipe, "webm"
	VideoCodec  string        `mapstructure:"video_codec" yaml:"video_codec"`
	AudioCodec  string        `mapstructure:"audio_codec" yaml:"audio_codec"`
	ChunkSize   int           `mapstructure:"chunk_size" yaml:"chunk_size"`
	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
}

type PreviewConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

var defaultConfig = Config{
	Backend: BackendConfig{
		BaseURL: "http://localhost:8000",
		Timeout: 2 * time.Minute,
	},
	Interview: InterviewConfig{
		QuestionLimit: 5,
	},
	Devices: []Device{
		{Name: "camera", Kind: KindVideo, Format: "v4l2", Source: "/dev/video0"},
		{Name: "microphone", Kind: KindAudio, Format: "pulse", Source: "default"},
	},
	Capture: CaptureConfig{
		FFmpegPath:  "ffmpeg",
		Container:   "webm",
		VideoCodec:  "libvpx",
		AudioCodec:  "libopus",
		ChunkSize:   32 * 1024,
		StopTimeout: 5 * time.Second,
	},
	Preview: PreviewConfig{
		Listen: "127.0.0.1:8765",
	},
}

// Default returns a copy of the built-in configuration used when no file is given.
func Default() *Config {
	c := defaultConfig
	c.Devices = append([]Device(nil), defaultConfig.Devices...)
	return &c
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	selectedConfig, err := convertProfileToConfig(selectedProfile, rootConfig.Definitions)
	if err != nil {
		return nil, fmt.Errorf("error resolving configuration profile '%s': %w", configName, err)
	}

	var base *Config
	if configName != "default" {
		if defaultProfile, exists := rootConfig.Configs["default"]; exists {
			base, err = convertProfileToConfig(defaultProfile, rootConfig.Definitions)
			if err != nil {
				return nil, fmt.Errorf("error resolving default configuration: %w", err)
			}
		}
	}
	selectedConfig = mergeConfigs(base, selectedConfig)

	// Globals win over any profile value
	if rootConfig.Globals != nil {
		if rootConfig.Globals.Backend.BaseURL != "" {
			selectedConfig.Backend.BaseURL = rootConfig.Globals.Backend.BaseURL
			selectedConfig.Inheritance.Backend.BaseURL = InheritanceGlobal
		}
		if rootConfig.Globals.Backend.Timeout != 0 {
			selectedConfig.Backend.Timeout = rootConfig.Globals.Backend.Timeout
			selectedConfig.Inheritance.Backend.Timeout = InheritanceGlobal
		}
	}

	applyDefaults(selectedConfig)
	selectedConfig.Capture.FFmpegPath = expandPath(selectedConfig.Capture.FFmpegPath)

	if err := Validate(selectedConfig); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selectedConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return err
	}
	if _, ok := rootConfig.Configs[newActiveConfig]; !ok {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// ProfileNames returns the profile names declared in the config file
func ProfileNames(configFile string) ([]string, string, error) {
	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, "", err
	}
	names := make([]string, 0, len(rootConfig.Configs))
	for name := range rootConfig.Configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, rootConfig.ActiveConfig, nil
}

// convertProfileToConfig converts a ConfigProfile to Config by resolving device references
func convertProfileToConfig(profile *ConfigProfile, definitions *DefinitionsConfig) (*Config, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile cannot be nil")
	}

	config := &Config{
		Backend:   profile.Backend,
		Interview: profile.Interview,
		Capture:   profile.Capture,
		Preview:   profile.Preview,
	}

	for i, ref := range profile.Devices {
		if ref.Ref == "" {
			return nil, fmt.Errorf("devices[%d]: 'ref' is required", i)
		}

		definition := findDefinition(definitions, ref.Ref)
		if definition == nil {
			return nil, fmt.Errorf("devices[%d]: reference '%s' not found in definitions", i, ref.Ref)
		}

		device := Device{
			Name:      definition.Name,
			Kind:      definition.Kind,
			Format:    definition.Format,
			Source:    definition.Source,
			Framerate: definition.Framerate,
			VideoSize: definition.VideoSize,
		}
		if ref.Source != nil {
			device.Source = *ref.Source
		}
		if ref.Framerate != nil {
			device.Framerate = *ref.Framerate
		}

		config.Devices = append(config.Devices, device)
	}

	return config, nil
}

func findDefinition(definitions *DefinitionsConfig, id string) *DeviceDefinition {
	if definitions == nil {
		return nil
	}
	for i := range definitions.Devices {
		if definitions.Devices[i].ID == id {
			return &definitions.Devices[i]
		}
	}
	return nil
}

// mergeConfigs resolves a profile against the default profile:
// - scalar settings use the profile value or fall back to base
// - devices listed by the profile are used as-is; a profile listing no
//   devices records with the base devices, since capture needs both kinds
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{}
	result.Inheritance = &InheritanceInfo{Devices: make(map[string]string)}

	if base != nil {
		result.Backend = base.Backend
		result.Interview = base.Interview
		result.Capture = base.Capture
		result.Preview = base.Preview

		result.Inheritance.Backend.BaseURL = InheritanceInherited
		result.Inheritance.Backend.Timeout = InheritanceInherited
		result.Inheritance.Interview.QuestionLimit = InheritanceInherited
		result.Inheritance.Capture.Container = InheritanceInherited
		result.Inheritance.Capture.VideoCodec = InheritanceInherited
		result.Inheritance.Capture.AudioCodec = InheritanceInherited
		result.Inheritance.Preview.Listen = InheritanceInherited
	}

	if profile == nil {
		return result
	}

	if profile.Backend.BaseURL != "" {
		result.Backend.BaseURL = profile.Backend.BaseURL
		result.Inheritance.Backend.BaseURL = InheritanceProfile
	}
	if profile.Backend.Timeout != 0 {
		result.Backend.Timeout = profile.Backend.Timeout
		result.Inheritance.Backend.Timeout = InheritanceProfile
	}
	if profile.Interview.QuestionLimit != 0 {
		result.Interview.QuestionLimit = profile.Interview.QuestionLimit
		result.Inheritance.Interview.QuestionLimit = InheritanceProfile
	}
	if profile.Capture.FFmpegPath != "" {
		result.Capture.FFmpegPath = profile.Capture.FFmpegPath
	}
	if profile.Capture.Container != "" {
		result.Capture.Container = profile.Capture.Container
		result.Inheritance.Capture.Container = InheritanceProfile
	}
	if profile.Capture.VideoCodec != "" {
		result.Capture.VideoCodec = profile.Capture.VideoCodec
		result.Inheritance.Capture.VideoCodec = InheritanceProfile
	}
	if profile.Capture.AudioCodec != "" {
		result.Capture.AudioCodec = profile.Capture.AudioCodec
		result.Inheritance.Capture.AudioCodec = InheritanceProfile
	}
	if profile.Capture.ChunkSize != 0 {
		result.Capture.ChunkSize = profile.Capture.ChunkSize
	}
	if profile.Capture.StopTimeout != 0 {
		result.Capture.StopTimeout = profile.Capture.StopTimeout
	}
	if profile.Preview.Listen != "" {
		result.Preview.Listen = profile.Preview.Listen
		result.Inheritance.Preview.Listen = InheritanceProfile
	}

	devices := profile.Devices
	status := InheritanceProfile
	if len(devices) == 0 && base != nil {
		devices = base.Devices
		status = InheritanceInherited
	}
	result.Devices = make([]Device, 0, len(devices))
	for _, d := range devices {
		result.Devices = append(result.Devices, d)
		result.Inheritance.Devices[d.Name] = status
	}

	return result
}

// applyDefaults fills settings no profile provided with built-in values
func applyDefaults(c *Config) {
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = defaultConfig.Backend.BaseURL
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = defaultConfig.Backend.Timeout
	}
	if c.Interview.QuestionLimit == 0 {
		c.Interview.QuestionLimit = defaultConfig.Interview.QuestionLimit
	}
	if c.Capture.FFmpegPath == "" {
		c.Capture.FFmpegPath = defaultConfig.Capture.FFmpegPath
	}
	if c.Capture.Container == "" {
		c.Capture.Container = defaultConfig.Capture.Container
	}
	if c.Capture.VideoCodec == "" {
		c.Capture.VideoCodec = defaultConfig.Capture.VideoCodec
	}
	if c.Capture.AudioCodec == "" {
		c.Capture.AudioCodec = defaultConfig.Capture.AudioCodec
	}
	if c.Capture.ChunkSize == 0 {
		c.Capture.ChunkSize = defaultConfig.Capture.ChunkSize
	}
	if c.Capture.StopTimeout == 0 {
		c.Capture.StopTimeout = defaultConfig.Capture.StopTimeout
	}
	if c.Preview.Listen == "" {
		c.Preview.Listen = defaultConfig.Preview.Listen
	}
	if len(c.Devices) == 0 {
		c.Devices = append([]Device(nil), defaultConfig.Devices...)
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

var (
	videoFormats = map[string]bool{"v4l2": true, "avfoundation": true, "dshow": true, "gdigrab": true, "lavfi": true}
	audioFormats = map[string]bool{"pulse": true, "alsa": true, "avfoundation": true, "dshow": true, "jack": true, "lavfi": true}

	videoSizePattern = regexp.MustCompile(`^[0-9]+x[0-9]+$`)
)

// isValidDeviceSource checks a source against the conventions of its ffmpeg input format
func isValidDeviceSource(format, source string) bool {
	source = strings.TrimSpace(source)
	if source == "" {
		return false
	}

	switch format {
	case "v4l2":
		return strings.HasPrefix(source, "/dev/")
	case "alsa":
		return source == "default" || strings.HasPrefix(source, "hw:") || strings.HasPrefix(source, "plughw:") || strings.HasPrefix(source, "/dev/")
	default:
		return true
	}
}

// Video returns the configured camera device
func (c *Config) Video() (Device, bool) {
	return c.deviceOfKind(KindVideo)
}

// Audio returns the configured microphone device
func (c *Config) Audio() (Device, bool) {
	return c.deviceOfKind(KindAudio)
}

func (c *Config) deviceOfKind(kind string) (Device, bool) {
	for _, d := range c.Devices {
		if d.Kind == kind {
			return d, true
		}
	}
	return Device{}, false
}

// Validate checks a resolved configuration
func Validate(c *Config) error {
	if err := validateBackend(c.Backend); err != nil {
		return err
	}
	if c.Interview.QuestionLimit <= 0 {
		return fmt.Errorf("interview.question_limit must be > 0, got: %d", c.Interview.QuestionLimit)
	}
	if c.Capture.ChunkSize <= 0 {
		return fmt.Errorf("capture.chunk_size must be > 0, got: %d", c.Capture.ChunkSize)
	}
	if c.Capture.StopTimeout <= 0 {
		return fmt.Errorf("capture.stop_timeout must be > 0, got: %s", c.Capture.StopTimeout)
	}
	return validateDevices(c.Devices)
}

func validateBackend(b BackendConfig) error {
	u, err := url.Parse(b.BaseURL)
	if err != nil {
		return fmt.Errorf("backend.base_url is invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.base_url must use http or https, got: %s", b.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("backend.base_url must include a host, got: %s", b.BaseURL)
	}
	if b.Timeout < 0 {
		return fmt.Errorf("backend.timeout must be >= 0, got: %s", b.Timeout)
	}
	return nil
}

// validateDevices requires exactly one camera and one microphone
func validateDevices(devices []Device) error {
	counts := map[string]int{}
	for i, d := range devices {
		prefix := fmt.Sprintf("device[%d] '%s'", i, d.Name)
		if d.Name == "" {
			return fmt.Errorf("device[%d] must have a name", i)
		}
		if err := validateDeviceFields(prefix, d.Kind, d.Format, d.Source, d.Framerate, d.VideoSize); err != nil {
			return err
		}
		counts[d.Kind]++
	}

	if counts[KindVideo] != 1 {
		return fmt.Errorf("exactly one video device is required, got %d", counts[KindVideo])
	}
	if counts[KindAudio] != 1 {
		return fmt.Errorf("exactly one audio device is required, got %d", counts[KindAudio])
	}
	return nil
}

func validateDeviceFields(prefix, kind, format, source string, framerate int, videoSize string) error {
	switch kind {
	case KindVideo:
		if !videoFormats[format] {
			return fmt.Errorf("%s: format '%s' is not a supported video input", prefix, format)
		}
	case KindAudio:
		if !audioFormats[format] {
			return fmt.Errorf("%s: format '%s' is not a supported audio input", prefix, format)
		}
	case "":
		return fmt.Errorf("%s: 'kind' is required (video, audio)", prefix)
	default:
		return fmt.Errorf("%s: 'kind' must be 'video' or 'audio', got: %s", prefix, kind)
	}

	if !isValidDeviceSource(format, source) {
		return fmt.Errorf("%s: source must be a valid %s input, got: %q", prefix, format, source)
	}
	if framerate < 0 {
		return fmt.Errorf("%s: 'framerate' must be >= 0, got: %d", prefix, framerate)
	}
	if videoSize != "" {
		if kind != KindVideo {
			return fmt.Errorf("%s: 'video_size' only applies to video devices", prefix)
		}
		if !videoSizePattern.MatchString(videoSize) {
			return fmt.Errorf("%s: 'video_size' must look like 1280x720, got: %s", prefix, videoSize)
		}
	}
	return nil
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("INTERVIEWCAPTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("globals.backend.base_url", "INTERVIEWCAPTURE_BACKEND_URL")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateDefinitions(rootConfig.Definitions); err != nil {
		return nil, fmt.Errorf("invalid definitions: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required")
	}

	for configName, configProfile := range rootConfig.Configs {
		if configProfile == nil {
			return nil, fmt.Errorf("invalid config '%s': profile is empty", configName)
		}
		if err := validateDeviceReferences(configProfile.Devices, rootConfig.Definitions); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", configName, err)
		}
	}

	return &rootConfig, nil
}

// validateDefinitions validates the definitions section
func validateDefinitions(definitions *DefinitionsConfig) error {
	if definitions == nil {
		return fmt.Errorf("definitions section is required")
	}

	if len(definitions.Devices) == 0 {
		return fmt.Errorf("definitions.devices cannot be empty")
	}

	seenIDs := make(map[string]bool)

	for i, def := range definitions.Devices {
		prefix := fmt.Sprintf("definitions.devices[%d]", i)
		if def.ID == "" {
			return fmt.Errorf("%s: 'id' is required", prefix)
		}
		if seenIDs[def.ID] {
			return fmt.Errorf("%s: duplicate ID '%s'", prefix, def.ID)
		}
		seenIDs[def.ID] = true

		if def.Name == "" {
			return fmt.Errorf("%s: 'name' is required", prefix)
		}
		if err := validateDeviceFields(prefix, def.Kind, def.Format, def.Source, def.Framerate, def.VideoSize); err != nil {
			return err
		}
	}

	return nil
}

// validateDeviceReferences validates device references in a config profile
func validateDeviceReferences(refs []DeviceReference, definitions *DefinitionsConfig) error {
	for i, ref := range refs {
		prefix := fmt.Sprintf("devices[%d]", i)

		if ref.Ref == "" {
			return fmt.Errorf("%s: 'ref' is required", prefix)
		}

		def := findDefinition(definitions, ref.Ref)
		if def == nil {
			return fmt.Errorf("%s: references undefined device definition '%s'", prefix, ref.Ref)
		}

		if ref.Source != nil && !isValidDeviceSource(def.Format, *ref.Source) {
			return fmt.Errorf("%s: source override must be a valid %s input, got: %q", prefix, def.Format, *ref.Source)
		}
		if ref.Framerate != nil && *ref.Framerate < 0 {
			return fmt.Errorf("%s: framerate override must be >= 0, got %d", prefix, *ref.Framerate)
		}
	}

	return nil
}
