package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const flagConfigFile = "config"

// fileConfig is the YAML layout of --config. Keys mirror the flag names.
type fileConfig struct {
	ListenAddr      string   `yaml:"listen_addr"`
	Mode            string   `yaml:"mode"`
	LogFormat       string   `yaml:"log_format"`
	LogLevel        string   `yaml:"log_level"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
	AllowedOrigins  []string `yaml:"allowed_origins"`

	WSIdleTimeout        string `yaml:"ws_idle_timeout"`
	WSPingInterval       string `yaml:"ws_ping_interval"`
	MaxMessageBytes      *int   `yaml:"max_message_bytes"`
	MaxMessagesPerSecond *int   `yaml:"max_messages_per_second"`
	SendQueueBytes       *int   `yaml:"send_queue_bytes"`

	ICEServers     []iceServerJSON `yaml:"ice_servers"`
	STUNURLs       []string        `yaml:"stun_urls"`
	TURNURLs       []string        `yaml:"turn_urls"`
	TURNUsername   string          `yaml:"turn_username"`
	TURNCredential string          `yaml:"turn_credential"`
}

// scanConfigFileFlag extracts --config before the full flag set is built, so
// the file can supply defaults for every other flag.
func scanConfigFileFlag(args []string) (string, error) {
	fs := pflag.NewFlagSet("config-scan", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	fs.ParseErrorsWhitelist.UnknownFlags = true

	var path string
	fs.StringVar(&path, flagConfigFile, "", "")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(path), nil
}

// readFile loads a YAML config file and returns its values keyed by the
// environment variable each one stands in for. ${VAR} references are expanded
// through lookup.
func readFile(path string, lookup func(string) (string, bool)) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	expanded := os.Expand(string(raw), func(key string) string {
		v, _ := lookup(key)
		return v
	})

	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	out := map[string]string{}
	set := func(key, value string) {
		if strings.TrimSpace(value) != "" {
			out[key] = value
		}
	}
	setInt := func(key string, value *int) {
		if value != nil {
			out[key] = strconv.Itoa(*value)
		}
	}

	set(envVarListenAddr, fc.ListenAddr)
	set(envVarMode, fc.Mode)
	set(envVarLogFormat, fc.LogFormat)
	set(envVarLogLevel, fc.LogLevel)
	set(envVarShutdownTimeout, fc.ShutdownTimeout)
	set(envVarAllowedOrigins, strings.Join(fc.AllowedOrigins, ","))
	set(envVarSignalingWSIdleTimeout, fc.WSIdleTimeout)
	set(envVarSignalingWSPingInterval, fc.WSPingInterval)
	setInt(envVarMaxSignalingMessageBytes, fc.MaxMessageBytes)
	setInt(envVarMaxSignalingMessagesPerSecond, fc.MaxMessagesPerSecond)
	setInt(envVarSignalingSendQueueBytes, fc.SendQueueBytes)
	set(envStunURLs, strings.Join(fc.STUNURLs, ","))
	set(envTurnURLs, strings.Join(fc.TURNURLs, ","))
	set(envTurnUsername, fc.TURNUsername)
	set(envTurnCredential, fc.TURNCredential)

	if len(fc.ICEServers) > 0 {
		b, err := json.Marshal(fc.ICEServers)
		if err != nil {
			return nil, fmt.Errorf("config file %s: ice_servers: %w", path, err)
		}
		out[envICEServersJSON] = string(b)
	}
	return out, nil
}

// layered consults lookup first and falls back to the file values.
func layered(lookup func(string) (string, bool), file map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := lookup(key); ok && v != "" {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}
}
