package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	socketio "github.com/bubblesnake/socketio"
)

type fileConfig struct {
	Addr           string `toml:"addr"`
	Secure         bool   `toml:"secure"`
	CertFile       string `toml:"cert_file"`
	KeyFile        string `toml:"key_file"`
	LogLevel       string `toml:"log_level"`
	PingInterval   string `toml:"ping_interval"`
	PingTimeout    string `toml:"ping_timeout"`
	ConnectTimeout string `toml:"connect_timeout"`
	MaxPayload     int    `toml:"max_payload"`
	SendQueue      int    `toml:"send_queue"`
	StrictChannels bool   `toml:"strict_channels"`
	MaxDepth       int    `toml:"max_depth"`
	MaxAttachments int    `toml:"max_attachments"`
	MaxBlobSize    int    `toml:"max_blob_size"`
}

type serverConfig struct {
	Addr     string
	Secure   bool
	CertFile string
	KeyFile  string
	LogLevel string
	Socket   socketio.Config
}

func defaultServerConfig() serverConfig {
	return serverConfig{
		Addr:     ":3300",
		CertFile: "server_cert.pem",
		KeyFile:  "server_key.pem",
		Socket:   *socketio.DefaultConfig(),
	}
}

func loadServerConfig(path string) (serverConfig, error) {
	cfg := defaultServerConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serverConfig{}, fmt.Errorf("load server config: %w", err)
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("secure") {
		cfg.Secure = raw.Secure
	}
	if meta.IsDefined("cert_file") {
		cfg.CertFile = strings.TrimSpace(raw.CertFile)
	}
	if meta.IsDefined("key_file") {
		cfg.KeyFile = strings.TrimSpace(raw.KeyFile)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"ping_interval", raw.PingInterval, &cfg.Socket.PingInterval},
		{"ping_timeout", raw.PingTimeout, &cfg.Socket.PingTimeout},
		{"connect_timeout", raw.ConnectTimeout, &cfg.Socket.ConnectTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return serverConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("max_payload") {
		cfg.Socket.MaxPayload = raw.MaxPayload
	}
	if meta.IsDefined("send_queue") {
		cfg.Socket.SendQueue = raw.SendQueue
	}
	if meta.IsDefined("strict_channels") {
		cfg.Socket.StrictChannels = raw.StrictChannels
	}
	if meta.IsDefined("max_depth") {
		cfg.Socket.Limits.MaxDepth = raw.MaxDepth
	}
	if meta.IsDefined("max_attachments") {
		cfg.Socket.Limits.MaxAttachments = raw.MaxAttachments
	}
	if meta.IsDefined("max_blob_size") {
		cfg.Socket.Limits.MaxBlobSize = raw.MaxBlobSize
	}

	if err := cfg.validate(); err != nil {
		return serverConfig{}, err
	}
	return cfg, nil
}

func (c serverConfig) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	if c.Secure && (c.CertFile == "" || c.KeyFile == "") {
		return fmt.Errorf("secure mode needs cert_file and key_file")
	}
	if c.Socket.PingInterval <= 0 || c.Socket.PingTimeout <= 0 {
		return fmt.Errorf("ping_interval and ping_timeout must be positive")
	}
	if c.Socket.MaxPayload <= 0 {
		return fmt.Errorf("max_payload must be positive")
	}
	if c.Socket.Limits.MaxDepth < 0 || c.Socket.Limits.MaxAttachments < 0 || c.Socket.Limits.MaxBlobSize < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if c.Socket.Limits.MaxBlobSize > c.Socket.MaxPayload {
		return fmt.Errorf("max_blob_size %d exceeds max_payload %d", c.Socket.Limits.MaxBlobSize, c.Socket.MaxPayload)
	}
	return nil
}
