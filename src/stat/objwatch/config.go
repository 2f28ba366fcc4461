package objwatch

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/heapx"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/procstat"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/threshold"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/toptab"
	configure "github.com/jom-io/gorig/utils/cofigure"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
)

const (
	DefaultTag      = "watch_objectspace"
	DefaultInterval = 60 * time.Second
	DefaultDelay    = 60 * time.Second

	configPrefix = "om.watch."
)

// Config is the watcher's option set. Durations without a unit are read as seconds.
type Config struct {
	WatchClass     []string         `json:"watch_class" yaml:"watch_class" mapstructure:"watch_class" validate:"dive,required"`
	WatchInterval  time.Duration    `json:"watch_interval" yaml:"watch_interval" mapstructure:"watch_interval" validate:"gt=0"`
	Tag            string           `json:"tag" yaml:"tag" mapstructure:"tag" validate:"required"`
	Modules        []string         `json:"modules" yaml:"modules" mapstructure:"modules" validate:"dive,required"`
	WatchDelay     time.Duration    `json:"watch_delay" yaml:"watch_delay" mapstructure:"watch_delay" validate:"gte=0"`
	GCRawData      bool             `json:"gc_raw_data" yaml:"gc_raw_data" mapstructure:"gc_raw_data"`
	TopFields      []string         `json:"top_fields" yaml:"top_fields" mapstructure:"top_fields" validate:"min=1,dive,required"`
	Threshold      threshold.Config `json:"threshold" yaml:"threshold" mapstructure:"threshold"`
	Provider       string           `json:"provider" yaml:"provider" mapstructure:"provider" validate:"oneof=top native"`
	CommandTimeout time.Duration    `json:"command_timeout" yaml:"command_timeout" mapstructure:"command_timeout" validate:"gte=0"`
	ForceGC        bool             `json:"force_gc" yaml:"force_gc" mapstructure:"force_gc"`
	ThresholdFile  string           `json:"threshold_file" yaml:"threshold_file" mapstructure:"threshold_file"`
	// Journal persists flagged samples to the sqlite LeakJournal when Boot builds the watcher.
	Journal bool `json:"journal" yaml:"journal" mapstructure:"journal"`
}

func DefaultConfig() Config {
	return Config{
		WatchInterval:  DefaultInterval,
		Tag:            DefaultTag,
		WatchDelay:     DefaultDelay,
		TopFields:      append([]string(nil), toptab.DefaultFields...),
		Threshold:      threshold.Default(),
		Provider:       procstat.KindTop,
		CommandTimeout: procstat.DefaultTimeout,
	}
}

var validate = validator.New()

// Validate checks field constraints and the cross-field rules a watcher relies on.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if fes, ok := err.(validator.ValidationErrors); ok && len(fes) > 0 {
			fe := fes[0]
			return configErr(section(fe.Namespace()), toSnake(fe.Field()), "invalid value, failed '"+fe.Tag()+"' rule", err)
		}
		return configErr("", "", "invalid configuration", err)
	}
	for _, f := range c.TopFields {
		if !toptab.Known(f) {
			return configErr("", "top_fields", "unknown column '"+f+"'", nil)
		}
	}
	if c.Threshold.ResEnabled() && !toptab.NewParser(c.TopFields).Includes(toptab.FieldRes) {
		return configErr("threshold", "res_of_top", "requires RES in top_fields", nil)
	}
	for _, name := range c.WatchClass {
		if strings.HasPrefix(name, heapx.AllocPrefix) && len(name) == len(heapx.AllocPrefix) {
			return configErr("", "watch_class", "empty allocation-site prefix", nil)
		}
	}
	return nil
}

func section(ns string) string {
	if strings.Contains(ns, ".Threshold.") {
		return "threshold"
	}
	return ""
}

var snakeNames = map[string]string{
	"WatchClass":     "watch_class",
	"WatchInterval":  "watch_interval",
	"Tag":            "tag",
	"Modules":        "modules",
	"WatchDelay":     "watch_delay",
	"TopFields":      "top_fields",
	"ResOfTop":       "res_of_top",
	"MemsizeOfAll":   "memsize_of_all",
	"Provider":       "provider",
	"CommandTimeout": "command_timeout",
}

func toSnake(field string) string {
	if s, ok := snakeNames[field]; ok {
		return s
	}
	return strings.ToLower(field)
}

// source reads raw option values by their snake_case key.
type source interface {
	value(key string) (string, bool)
	list(key string) ([]string, bool)
}

type configureSource struct{}

func (configureSource) value(key string) (string, bool) {
	v := strings.TrimSpace(configure.GetString(configPrefix+key, ""))
	return v, v != ""
}

func (s configureSource) list(key string) ([]string, bool) {
	v, ok := s.value(key)
	if !ok {
		return nil, false
	}
	return splitList(v), true
}

type jsonSource struct {
	root gjson.Result
}

func (s jsonSource) value(key string) (string, bool) {
	r := s.root.Get(key)
	if !r.Exists() || r.Type == gjson.Null {
		return "", false
	}
	return r.String(), true
}

func (s jsonSource) list(key string) ([]string, bool) {
	r := s.root.Get(key)
	if !r.Exists() || r.Type == gjson.Null {
		return nil, false
	}
	if !r.IsArray() {
		return splitList(r.String()), true
	}
	var out []string
	for _, item := range r.Array() {
		out = append(out, strings.TrimSpace(item.String()))
	}
	return out, true
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' }) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// LoadConfig reads om.watch.* from the application configuration on top of DefaultConfig.
func LoadConfig() (Config, error) {
	return load(configureSource{})
}

// LoadJSON reads a JSON document with the same keys as LoadConfig, without the prefix.
func LoadJSON(raw []byte) (Config, error) {
	if !gjson.ValidBytes(raw) {
		return Config{}, configErr("", "", "malformed json", nil)
	}
	return load(jsonSource{root: gjson.ParseBytes(raw)})
}

func load(src source) (Config, error) {
	c := DefaultConfig()
	if v, ok := src.list("watch_class"); ok {
		c.WatchClass = v
	}
	if v, ok := src.list("modules"); ok {
		c.Modules = v
	}
	if v, ok := src.list("top_fields"); ok {
		c.TopFields = v
	}
	if v, ok := src.value("tag"); ok {
		c.Tag = v
	}
	if v, ok := src.value("provider"); ok {
		c.Provider = v
	}
	if v, ok := src.value("threshold_file"); ok {
		c.ThresholdFile = v
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"watch_interval", &c.WatchInterval},
		{"watch_delay", &c.WatchDelay},
		{"command_timeout", &c.CommandTimeout},
	}
	for _, d := range durations {
		v, ok := src.value(d.key)
		if !ok {
			continue
		}
		parsed, err := ParseDuration(v)
		if err != nil {
			return Config{}, configErr("", d.key, "invalid duration '"+v+"'", err)
		}
		*d.dst = parsed
	}
	flags := []struct {
		key string
		dst *bool
	}{
		{"gc_raw_data", &c.GCRawData},
		{"force_gc", &c.ForceGC},
		{"journal", &c.Journal},
	}
	for _, f := range flags {
		v, ok := src.value(f.key)
		if !ok {
			continue
		}
		b, err := cast.ToBoolE(v)
		if err != nil {
			return Config{}, configErr("", f.key, "invalid boolean '"+v+"'", err)
		}
		*f.dst = b
	}
	th, err := loadThreshold(src, c.Threshold)
	if err != nil {
		return Config{}, err
	}
	c.Threshold = th
	return c, nil
}

func loadThreshold(src source, base threshold.Config) (threshold.Config, error) {
	rates := []struct {
		key string
		dst **float64
	}{
		{threshold.MetricRes, &base.ResOfTop},
		{threshold.MetricMemsize, &base.MemsizeOfAll},
	}
	for _, r := range rates {
		v, ok := src.value("threshold." + r.key)
		if !ok {
			continue
		}
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return threshold.Config{}, configErr("threshold", r.key, "invalid rate '"+v+"'", err)
		}
		*r.dst = threshold.Rate(f)
	}
	return base, nil
}

// ParseThresholds reads {"res_of_top": x, "memsize_of_all": y}. Absent keys keep the value in base.
func ParseThresholds(raw []byte, base threshold.Config) (threshold.Config, error) {
	if !gjson.ValidBytes(raw) {
		return threshold.Config{}, configErr("threshold", "", "malformed json", nil)
	}
	root := gjson.ParseBytes(raw)
	if inner := root.Get("threshold"); inner.IsObject() {
		root = inner
	}
	wrapped := jsonSource{root: gjson.Parse(`{"threshold":` + root.Raw + `}`)}
	return loadThreshold(wrapped, base)
}

// ParseDuration accepts Go durations ("90s", "1m30s") and bare numbers of seconds.
func ParseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if f, err := cast.ToFloat64E(v); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}
