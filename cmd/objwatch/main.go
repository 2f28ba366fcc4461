package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jom-io/gorig-objwatch/src/stat/objwatch"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/heapx"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/procstat"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/threshold"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/toptab"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const version = "0.1.0"

func main() {
	root, _ := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() (*cobra.Command, *viper.Viper) {
	v := viper.New()
	root := &cobra.Command{
		Use:     "objwatch",
		Short:   "Watch this process for memory growth",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v)
		},
	}
	root.PersistentFlags().String("config", "", "Path to a yaml or json config file")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))

	v.SetEnvPrefix("OBJWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	root.AddCommand(newRunCmd(v), newClassesCmd())
	return root, v
}

func initConfig(v *viper.Viper) error {
	path := v.GetString("config")
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// bind registers a flag under a config key so file, env and flag share one name.
func bind(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	_ = v.BindPFlag(key, cmd.Flags().Lookup(flag))
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sample on an interval and print one JSON line per sample",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cmd.OutOrStdout(), cfg, runOptionsFrom(v))
		},
	}
	def := objwatch.DefaultConfig()
	f := cmd.Flags()
	f.StringSlice("watch-class", nil, "Classes to count, e.g. goroutine,heapobject,alloc:main.")
	f.String("watch-interval", def.WatchInterval.String(), "Sampling interval")
	f.String("watch-delay", def.WatchDelay.String(), "Warm-up before the first sample")
	f.String("tag", def.Tag, "Tag attached to every sample")
	f.StringSlice("modules", nil, "Counter modules to load before resolving classes")
	f.Bool("gc-raw-data", false, "Include raw collector cycle stats")
	f.StringSlice("top-fields", toptab.DefaultFields, "Process columns to include")
	f.Float64("res-of-top", 0, "Resident memory growth rate, 0 disables")
	f.Float64("memsize-of-all", threshold.DefaultMemsizeRate, "Heap growth rate, 0 disables")
	f.String("provider", def.Provider, "Process stats source: top or native")
	f.String("command-timeout", def.CommandTimeout.String(), "Timeout for the top command")
	f.Bool("force-gc", false, "Collect garbage before reading heap bytes")
	f.String("threshold-file", "", "JSON file with thresholds, reloaded on change")
	f.Int("pid", 0, "Process to sample, this one when 0")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	f.Int("simulate-leak-mb", 0, "Retain this many MiB per step to exercise detection")
	f.Int("simulate-leak-count", 15, "Number of simulated leak steps")
	f.String("simulate-leak-interval", "2s", "Time between simulated leak steps")

	for key, flag := range map[string]string{
		"watch_class":              "watch-class",
		"watch_interval":           "watch-interval",
		"watch_delay":              "watch-delay",
		"tag":                      "tag",
		"modules":                  "modules",
		"gc_raw_data":              "gc-raw-data",
		"top_fields":               "top-fields",
		"threshold.res_of_top":     "res-of-top",
		"threshold.memsize_of_all": "memsize-of-all",
		"provider":                 "provider",
		"command_timeout":          "command-timeout",
		"force_gc":                 "force-gc",
		"threshold_file":           "threshold-file",
		"pid":                      "pid",
		"metrics_addr":             "metrics-addr",
		"simulate.leak_mb":         "simulate-leak-mb",
		"simulate.leak_count":      "simulate-leak-count",
		"simulate.leak_interval":   "simulate-leak-interval",
	} {
		bind(v, cmd, key, flag)
	}
	return cmd
}

func configFrom(v *viper.Viper) (objwatch.Config, error) {
	cfg := objwatch.DefaultConfig()
	cfg.WatchClass = v.GetStringSlice("watch_class")
	cfg.Modules = v.GetStringSlice("modules")
	cfg.TopFields = v.GetStringSlice("top_fields")
	cfg.Tag = v.GetString("tag")
	cfg.GCRawData = v.GetBool("gc_raw_data")
	cfg.ForceGC = v.GetBool("force_gc")
	cfg.Provider = v.GetString("provider")
	cfg.ThresholdFile = v.GetString("threshold_file")
	cfg.Threshold = threshold.Config{
		ResOfTop:     threshold.Rate(v.GetFloat64("threshold.res_of_top")),
		MemsizeOfAll: threshold.Rate(v.GetFloat64("threshold.memsize_of_all")),
	}
	for key, dst := range map[string]*time.Duration{
		"watch_interval":  &cfg.WatchInterval,
		"watch_delay":     &cfg.WatchDelay,
		"command_timeout": &cfg.CommandTimeout,
	} {
		d, err := objwatch.ParseDuration(v.GetString(key))
		if err != nil {
			return objwatch.Config{}, fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}
	return cfg, cfg.Validate()
}

func newClassesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classes",
		Short: "List built-in watch classes, modules and providers",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "classes:   %s\n", strings.Join(heapx.Default.Names(), ", "))
			fmt.Fprintf(out, "modules:   %s\n", strings.Join(heapx.Modules(), ", "))
			fmt.Fprintf(out, "providers: %s, %s\n", procstat.KindTop, procstat.KindNative)
			fmt.Fprintf(out, "allocation sites: %s<function prefix>\n", heapx.AllocPrefix)
		},
	}
}
