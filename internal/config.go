package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/spices/internal/locale"
	"github.com/starford/spices/internal/localmeta"
	"github.com/starford/spices/internal/models"
	"github.com/starford/spices/internal/workpool"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// DefaultBaseURL is the public spices catalog.
const DefaultBaseURL = "https://cinnamon-spices.linuxmint.com"

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Spices SpicesConfig      `yaml:"spices"`
	Paths  PathsConfig       `yaml:"paths"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Spices.Validate(); err != nil {
		return err
	}
	if err := c.Paths.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SpicesConfig controls the catalog and the caches.
type SpicesConfig struct {
	BaseURL        string        `yaml:"base_url"`
	CacheDir       string        `yaml:"cache_dir"`
	Workers        int           `yaml:"workers"`
	IndexTimeout   time.Duration `yaml:"index_timeout"`
	AssetTimeout   time.Duration `yaml:"asset_timeout"`
	ArchiveTimeout time.Duration `yaml:"archive_timeout"`
	// Locale selects catalog translations; "auto" uses the system locale.
	Locale string   `yaml:"locale"`
	Types  []string `yaml:"types"`
	// Msgfmt is the gettext compiler used for spice translations.
	Msgfmt string `yaml:"msgfmt"`
	// Watch rescans install dirs on change while serving.
	Watch bool `yaml:"watch"`
}

// Validate validates the spices configuration.
func (c *SpicesConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.CacheDir, validation.Required),
		validation.Field(&c.Workers, validation.Required, validation.Min(1), validation.Max(64)),
		validation.Field(&c.IndexTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.AssetTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.ArchiveTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Types, validation.Required),
	); err != nil {
		return err
	}
	for _, t := range c.Types {
		if _, err := models.ParsePackageType(t); err != nil {
			return fmt.Errorf("spices: types: %w", err)
		}
	}
	return nil
}

// PackageTypes returns the configured types, deduplicated.
func (c *SpicesConfig) PackageTypes() []models.PackageType {
	seen := map[models.PackageType]bool{}
	var out []models.PackageType
	for _, t := range c.Types {
		kind, err := models.ParsePackageType(t)
		if err != nil || seen[kind] {
			continue
		}
		seen[kind] = true
		out = append(out, kind)
	}
	return out
}

// PathsConfig holds install, translation and log locations.
type PathsConfig struct {
	// DataDir is the XDG data home; spices install to <DataDir>/cinnamon/<type>s.
	DataDir         string `yaml:"data_dir"`
	SystemDir       string `yaml:"system_dir"`
	ThemesDir       string `yaml:"themes_dir"`
	SystemThemesDir string `yaml:"system_themes_dir"`
	LocaleDir       string `yaml:"locale_dir"`
	SettingsDir     string `yaml:"settings_dir"`
	ActivityLog     string `yaml:"activity_log"`
}

// Validate validates the paths configuration.
func (c *PathsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DataDir, validation.Required),
		validation.Field(&c.ThemesDir, validation.Required),
		validation.Field(&c.LocaleDir, validation.Required),
		validation.Field(&c.ActivityLog, validation.Required),
	)
}

// InstallDirs returns the install locations of kind, user dir first.
func (c *PathsConfig) InstallDirs(kind models.PackageType) []localmeta.Dir {
	if kind.IsTheme() {
		dirs := []localmeta.Dir{{Path: c.ThemesDir}}
		if c.SystemThemesDir != "" {
			dirs = append(dirs, localmeta.Dir{Path: c.SystemThemesDir, System: true})
		}
		return dirs
	}
	dirs := []localmeta.Dir{{Path: filepath.Join(c.DataDir, "cinnamon", kind.Plural())}}
	if c.SystemDir != "" {
		dirs = append(dirs, localmeta.Dir{Path: filepath.Join(c.SystemDir, kind.Plural()), System: true})
	}
	return dirs
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// xdgDir returns $env, or fallback joined onto the home directory.
func xdgDir(env, fallback string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, fallback)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dataDir := xdgDir("XDG_DATA_HOME", ".local/share")
	types := make([]string, 0, len(models.AllTypes))
	for _, t := range models.AllTypes {
		types = append(types, t.String())
	}

	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Spices: SpicesConfig{
			BaseURL:        DefaultBaseURL,
			CacheDir:       filepath.Join(home, ".cinnamon", "spices.cache"),
			Workers:        workpool.DefaultWorkers,
			IndexTimeout:   30 * time.Second,
			AssetTimeout:   15 * time.Second,
			ArchiveTimeout: 2 * time.Minute,
			Locale:         locale.Auto,
			Types:          types,
			Msgfmt:         "msgfmt",
			Watch:          true,
		},
		Paths: PathsConfig{
			DataDir:         dataDir,
			SystemDir:       "/usr/share/cinnamon",
			ThemesDir:       filepath.Join(home, ".themes"),
			SystemThemesDir: "/usr/share/themes",
			LocaleDir:       filepath.Join(dataDir, "locale"),
			SettingsDir:     filepath.Join(home, ".cinnamon", "configs"),
			ActivityLog:     filepath.Join(xdgDir("XDG_STATE_HOME", ".local/state"), "cinnamon", "harvester.log"),
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
