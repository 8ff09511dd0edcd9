package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/cesargomez89/audiosource/internal/constants"
)

// Config holds all application configuration
type Config struct {
	Port                 string
	DBPath               string
	DataDir              string
	MusicFolder          string
	LibraryTemplate      string
	LogLevel             string
	LogFormat            string
	MusicBrainzURL       string
	MusicBrainzUserAgent string
	SlskdURL             string
	SlskdAPIKey          string
	SlskdDownloadDir     string
	MatchThreshold       int
	DownloadTimeout      time.Duration
	WishlistDelay        time.Duration
	SlskdEnabled         bool
	WatchLibrary         bool
}

// fileConfig mirrors the TOML layout. Durations are strings such as "30s".
type fileConfig struct {
	Port                 *string `toml:"port"`
	DBPath               *string `toml:"db_path"`
	DataDir              *string `toml:"data_dir"`
	MusicFolder          *string `toml:"music_folder"`
	LibraryTemplate      *string `toml:"library_template"`
	LogLevel             *string `toml:"log_level"`
	LogFormat            *string `toml:"log_format"`
	MusicBrainzURL       *string `toml:"musicbrainz_url"`
	MusicBrainzUserAgent *string `toml:"musicbrainz_user_agent"`
	SlskdURL             *string `toml:"slskd_url"`
	SlskdAPIKey          *string `toml:"slskd_api_key"`
	SlskdDownloadDir     *string `toml:"slskd_download_dir"`
	DownloadTimeout      *string `toml:"download_timeout"`
	WishlistDelay        *string `toml:"wishlist_delay"`
	MatchThreshold       *int    `toml:"match_threshold"`
	SlskdEnabled         *bool   `toml:"slskd_enabled"`
	WatchLibrary         *bool   `toml:"watch_library"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:                 constants.DefaultPort,
		DBPath:               constants.DefaultDBPath,
		DataDir:              constants.DefaultDataDir,
		MusicFolder:          constants.DefaultMusicFolder,
		LibraryTemplate:      constants.DefaultLibraryTemplate,
		LogLevel:             "info",
		LogFormat:            "text",
		MusicBrainzURL:       constants.DefaultMusicBrainzURL,
		MusicBrainzUserAgent: constants.DefaultUserAgent,
		SlskdURL:             constants.DefaultSlskdURL,
		SlskdDownloadDir:     constants.DefaultSlskdDir,
		MatchThreshold:       constants.DefaultMatchThreshold,
		DownloadTimeout:      constants.DefaultDownloadTimeout,
		WishlistDelay:        constants.DefaultWishlistDelay,
	}
}

// Load builds the configuration from defaults, an optional TOML file and
// environment variables, in that order of precedence (last wins).
// An empty path falls back to AUDIOSOURCE_CONFIG; a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("AUDIOSOURCE_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.SlskdURL = strings.TrimRight(cfg.SlskdURL, "/")
	cfg.MusicBrainzURL = strings.TrimRight(cfg.MusicBrainzURL, "/")
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var fc fileConfig
	if err := toml.NewDecoder(f).Decode(&fc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	setString(&c.Port, fc.Port)
	setString(&c.DBPath, fc.DBPath)
	setString(&c.DataDir, fc.DataDir)
	setString(&c.MusicFolder, fc.MusicFolder)
	setString(&c.LibraryTemplate, fc.LibraryTemplate)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFormat, fc.LogFormat)
	setString(&c.MusicBrainzURL, fc.MusicBrainzURL)
	setString(&c.MusicBrainzUserAgent, fc.MusicBrainzUserAgent)
	setString(&c.SlskdURL, fc.SlskdURL)
	setString(&c.SlskdAPIKey, fc.SlskdAPIKey)
	setString(&c.SlskdDownloadDir, fc.SlskdDownloadDir)
	if fc.MatchThreshold != nil {
		c.MatchThreshold = *fc.MatchThreshold
	}
	if fc.SlskdEnabled != nil {
		c.SlskdEnabled = *fc.SlskdEnabled
	}
	if fc.WatchLibrary != nil {
		c.WatchLibrary = *fc.WatchLibrary
	}
	if fc.DownloadTimeout != nil {
		d, err := time.ParseDuration(*fc.DownloadTimeout)
		if err != nil {
			return fmt.Errorf("parse config: download_timeout: %w", err)
		}
		c.DownloadTimeout = d
	}
	if fc.WishlistDelay != nil {
		d, err := time.ParseDuration(*fc.WishlistDelay)
		if err != nil {
			return fmt.Errorf("parse config: wishlist_delay: %w", err)
		}
		c.WishlistDelay = d
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.MusicFolder = getEnv("MUSIC_FOLDER", c.MusicFolder)
	c.LibraryTemplate = getEnv("LIBRARY_TEMPLATE", c.LibraryTemplate)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.MusicBrainzURL = getEnv("MUSICBRAINZ_URL", c.MusicBrainzURL)
	c.MusicBrainzUserAgent = getEnv("MUSICBRAINZ_USER_AGENT", c.MusicBrainzUserAgent)
	c.SlskdURL = getEnv("SLSKD_URL", c.SlskdURL)
	c.SlskdAPIKey = getEnv("SLSKD_API_KEY", c.SlskdAPIKey)
	c.SlskdDownloadDir = getEnv("SLSKD_DOWNLOAD_DIR", c.SlskdDownloadDir)

	var errs []string
	if v, ok := os.LookupEnv("MATCH_THRESHOLD"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("MATCH_THRESHOLD must be a number, got: %s", v))
		} else {
			c.MatchThreshold = n
		}
	}
	if v, ok := os.LookupEnv("SLSKD_ENABLED"); ok {
		c.SlskdEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v, ok := os.LookupEnv("WATCH_LIBRARY"); ok {
		c.WatchLibrary = strings.EqualFold(v, "true") || v == "1"
	}
	if v, ok := os.LookupEnv("DOWNLOAD_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("DOWNLOAD_TIMEOUT must be a duration, got: %s", v))
		} else {
			c.DownloadTimeout = d
		}
	}
	if v, ok := os.LookupEnv("WISHLIST_DELAY"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("WISHLIST_DELAY must be a duration, got: %s", v))
		} else {
			c.WishlistDelay = d
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Validate validates the configuration and returns detailed errors
func (c *Config) Validate() error {
	var errors []string

	if c.Port == "" {
		errors = append(errors, "PORT cannot be empty")
	} else {
		port, err := strconv.Atoi(c.Port)
		if err != nil {
			errors = append(errors, fmt.Sprintf("PORT must be a valid number, got: %s", c.Port))
		} else if port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be between 1 and 65535, got: %d", port))
		}
	}

	if c.DBPath == "" {
		errors = append(errors, "DB_PATH cannot be empty")
	}

	if c.MusicFolder == "" {
		errors = append(errors, "MUSIC_FOLDER cannot be empty")
	}

	if c.LibraryTemplate == "" {
		errors = append(errors, "LIBRARY_TEMPLATE cannot be empty")
	} else if _, err := template.New("library").Parse(c.LibraryTemplate); err != nil {
		errors = append(errors, fmt.Sprintf("LIBRARY_TEMPLATE is not a valid template: %v", err))
	}

	if _, err := url.ParseRequestURI(c.MusicBrainzURL); err != nil {
		errors = append(errors, fmt.Sprintf("MUSICBRAINZ_URL is not a valid URL: %s", c.MusicBrainzURL))
	}
	if c.MusicBrainzUserAgent == "" {
		errors = append(errors, "MUSICBRAINZ_USER_AGENT cannot be empty")
	}

	if c.MatchThreshold < 0 || c.MatchThreshold > 100 {
		errors = append(errors, fmt.Sprintf("MATCH_THRESHOLD must be between 0 and 100, got: %d", c.MatchThreshold))
	}

	if c.SlskdEnabled {
		if _, err := url.ParseRequestURI(c.SlskdURL); err != nil {
			errors = append(errors, fmt.Sprintf("SLSKD_URL is not a valid URL: %s", c.SlskdURL))
		}
		if c.SlskdAPIKey == "" {
			errors = append(errors, "SLSKD_API_KEY cannot be empty when SLSKD_ENABLED is true")
		}
		if c.SlskdDownloadDir == "" {
			errors = append(errors, "SLSKD_DOWNLOAD_DIR cannot be empty when SLSKD_ENABLED is true")
		}
	}

	if c.DownloadTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("DOWNLOAD_TIMEOUT must be positive, got: %s", c.DownloadTimeout))
	}
	if c.WishlistDelay < 0 {
		errors = append(errors, fmt.Sprintf("WISHLIST_DELAY cannot be negative, got: %s", c.WishlistDelay))
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: debug, info, warn, error, got: %s", c.LogLevel))
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.LogFormat] {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: text, json, got: %s", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// SlskdConfigured reports whether downloads can be attempted at all.
func (c *Config) SlskdConfigured() bool {
	return c.SlskdEnabled && c.SlskdURL != "" && c.SlskdAPIKey != ""
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
