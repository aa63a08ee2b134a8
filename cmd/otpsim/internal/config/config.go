// Package config loads the otpsim preload file: the initial slot records and
// serial number a simulated device starts with.
package config

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root of an otpsim preload YAML document.
type Config struct {
	Serial string      `yaml:"serial"`
	Slot1  *SlotPreload `yaml:"slot1,omitempty"`
	Slot2  *SlotPreload `yaml:"slot2,omitempty"`
}

// SlotPreload is one slot record, expressed in hex strings for readability.
type SlotPreload struct {
	FixedData string `yaml:"fixed_data"`
	UID       string `yaml:"uid"`
	AESKey    string `yaml:"aes_key"`
	AccCode   string `yaml:"acc_code,omitempty"`
	ExtFlags  uint8  `yaml:"ext_flags"`
	TktFlags  uint8  `yaml:"tkt_flags"`
	CfgFlags  uint8  `yaml:"cfg_flags"`
}

// Load reads and validates a preload file at path.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field presence and hex-decodability without building the
// final fixed-size records (that happens in the caller, which knows the
// otpcard field widths).
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Serial) == "" {
		return fmt.Errorf("config.serial is required")
	}
	if _, err := hex.DecodeString(c.Serial); err != nil {
		return fmt.Errorf("config.serial: %w", err)
	}
	if c.Slot1 != nil {
		if err := c.Slot1.validate("slot1"); err != nil {
			return err
		}
	}
	if c.Slot2 != nil {
		if err := c.Slot2.validate("slot2"); err != nil {
			return err
		}
	}
	return nil
}

func (s *SlotPreload) validate(field string) error {
	for _, f := range []struct {
		name string
		val  string
	}{
		{"fixed_data", s.FixedData},
		{"uid", s.UID},
		{"aes_key", s.AESKey},
	} {
		if strings.TrimSpace(f.val) == "" {
			return fmt.Errorf("config.%s.%s is required", field, f.name)
		}
		if _, err := hex.DecodeString(f.val); err != nil {
			return fmt.Errorf("config.%s.%s: %w", field, f.name, err)
		}
	}
	if s.AccCode != "" {
		if _, err := hex.DecodeString(s.AccCode); err != nil {
			return fmt.Errorf("config.%s.acc_code: %w", field, err)
		}
	}
	return nil
}
