package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr             string        `mapstructure:"addr" yaml:"addr"`
	RoomLogDir       string        `mapstructure:"room_log_dir" yaml:"room_log_dir"`
	FileDir          string        `mapstructure:"file_dir" yaml:"file_dir"`
	VoiceDir         string        `mapstructure:"voice_dir" yaml:"voice_dir"`
	IndexPath        string        `mapstructure:"index_path" yaml:"index_path"`
	MaxTransferBytes int64         `mapstructure:"max_transfer_bytes" yaml:"max_transfer_bytes"`
	DefaultRoom      string        `mapstructure:"default_room" yaml:"default_room"`
	DefaultRooms     []string      `mapstructure:"default_rooms" yaml:"default_rooms"`
	LogLevel         string        `mapstructure:"log_level" yaml:"log_level"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:             ":5000",
		RoomLogDir:       "server_logs",
		FileDir:          "shared_files",
		VoiceDir:         "voice_messages",
		IndexPath:        "chatline.db",
		MaxTransferBytes: 10 << 20,
		DefaultRoom:      "General",
		DefaultRooms:     []string{"General", "Science", "Gaming", "Music", "Movies"},
		LogLevel:         "info",
		ShutdownTimeout:  5 * time.Second,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.RoomLogDir != "" {
		c.RoomLogDir = other.RoomLogDir
	}
	if other.FileDir != "" {
		c.FileDir = other.FileDir
	}
	if other.VoiceDir != "" {
		c.VoiceDir = other.VoiceDir
	}
	if other.IndexPath != "" {
		c.IndexPath = other.IndexPath
	}
	if other.MaxTransferBytes != 0 {
		c.MaxTransferBytes = other.MaxTransferBytes
	}
	if other.DefaultRoom != "" {
		c.DefaultRoom = other.DefaultRoom
	}
	if len(other.DefaultRooms) != 0 {
		c.DefaultRooms = other.DefaultRooms
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
}
