package app

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/visionline/camd/pkg/shell"
	"github.com/visionline/camd/pkg/yaml"
)

const DefaultConfig = "camd.yaml"

// LoadConfig unmarshals the config sources into v. Later sources override
// single keys of earlier ones, so `cameras.ccd1.gain=6` keeps the rest of ccd1.
func LoadConfig(v any) {
	data, err := yaml.Merge(configs...)
	if err != nil {
		Logger.Warn().Err(err).Msg("[app] read config")
	}
	if data == nil {
		return
	}
	if err = yaml.Unmarshal(data, v); err != nil {
		Logger.Warn().Err(err).Msg("[app] read config")
	}
}

// PatchConfig writes value at path into the config file, nil removes the key.
func PatchConfig(path []string, value any) error {
	if ConfigPath == "" {
		return errors.New("config file disabled")
	}

	// empty config is OK
	b, _ := os.ReadFile(ConfigPath)

	b, err := yaml.Patch(b, path, value)
	if err != nil {
		return err
	}

	return os.WriteFile(ConfigPath, b, 0644)
}

var configs [][]byte

func initConfig(confs []string) {
	if len(confs) == 0 {
		confs = []string{DefaultConfig}
	}

	for _, conf := range confs {
		if conf == "" {
			continue
		}

		if conf[0] == '{' {
			// raw YAML or JSON
			configs = append(configs, []byte(conf))
			continue
		}

		if data := parseConfString(conf); data != nil {
			configs = append(configs, data)
			continue
		}

		// first file is the one to patch
		if ConfigPath == "" {
			ConfigPath = conf
		}

		data, err := os.ReadFile(conf)
		if err != nil {
			continue
		}

		configs = append(configs, []byte(shell.ReplaceEnvVars(string(data))))
	}

	if ConfigPath != "" {
		if !filepath.IsAbs(ConfigPath) {
			if cwd, err := os.Getwd(); err == nil {
				ConfigPath = filepath.Join(cwd, ConfigPath)
			}
		}
		Info["config_path"] = ConfigPath
	}
}

// parseConfString turns `log.level=trace` into `{log: {level: trace}}`.
func parseConfString(s string) []byte {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return nil
	}

	items := strings.Split(key, ".")
	if len(items) < 2 {
		return nil
	}

	var pre, suf string
	for _, item := range items {
		pre += "{" + item + ": "
		suf += "}"
	}

	return []byte(pre + value + suf)
}
