package app

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

var Version = "0.4.0"
var UserAgent = "camd/" + Version

var ConfigPath string
var Info = map[string]any{
	"version": Version,
}

// Init loads every config source and sets up logging. Each value of confs is
// a file path, raw YAML/JSON or a `key.sub=value` pair.
func Init(confs []string) {
	initConfig(confs)
	initLogger()

	platform := fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
	Info["platform"] = platform

	Logger.Info().Str("version", Version).Str("platform", platform).Msg("camd")
	Logger.Debug().Str("version", runtime.Version()).Msg("build")

	if ConfigPath != "" {
		Logger.Info().Str("path", ConfigPath).Msg("config")
	}
}

// VersionString is printed by `camd version`.
func VersionString() string {
	var revision string
	built := time.Now()

	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				revision = setting.Value
				if len(revision) > 7 {
					revision = revision[:7]
				}
				revision = " (" + revision + ")"
			case "vcs.time":
				if ts, err := time.Parse(time.RFC3339, setting.Value); err == nil {
					built = ts
				}
			}
		}
	}

	return fmt.Sprintf(
		"camd version %s%s: %s %s/%s", Version, revision,
		built.Local().Format(time.DateTime), runtime.GOOS, runtime.GOARCH,
	)
}
