package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads process settings from the given YAML file. Environment variables
// prefixed MARLIN_ override file keys (MARLIN_ORACLE_API_KEY etc).
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	v.SetEnvPrefix("MARLIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var s Settings
	if err := v.Unmarshal(&s, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.StringToTimeDurationHookFunc()
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	s.applyDefaults()
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) validate() error {
	if strings.TrimSpace(s.Oracle.APIURL) == "" {
		return fmt.Errorf("oracle.api_url is required")
	}
	if strings.TrimSpace(s.Oracle.Model) == "" {
		return fmt.Errorf("oracle.model is required")
	}
	if !strings.HasPrefix(s.Exchange.WSBaseURL, "ws") {
		return fmt.Errorf("exchange.ws_base_url must be a ws:// or wss:// url")
	}
	return nil
}
