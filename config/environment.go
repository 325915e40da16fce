package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"
)

const (
	EnvironmentDevelopment = environmentDevelopment
	EnvironmentProduction  = environmentProduction
	EnvironmentStaging     = environmentStaging
)

var environmentAliases = map[string]string{
	"dev":   environmentDevelopment,
	"prod":  environmentProduction,
	"stag":  environmentStaging,
	"stage": environmentStaging,
}

// getAppEnvironment reads APP_ENV and defaults to development.
func getAppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// ResolveConfigPath returns the environment specific variant of the default
// config file (config/config.<env>.yml) when the caller did not pick a file
// explicitly and the variant exists on disk.
func ResolveConfigPath(path string) string {
	if path == "" {
		path = DefaultConfigPath
	}
	if path != DefaultConfigPath {
		return path
	}

	ext := filepath.Ext(path)
	envPath := strings.TrimSuffix(path, ext) + "." + getAppEnvironment() + ext
	if _, err := os.Stat(envPath); err == nil {
		return envPath
	}
	return path
}

// AppEnvironment exposes the normalised APP_ENV value.
func AppEnvironment() string {
	return getAppEnvironment()
}

// IsProductionLike reports whether env should treat misconfiguration
// strictly (production and staging).
func IsProductionLike(env string) bool {
	switch env {
	case environmentProduction, environmentStaging:
		return true
	default:
		return false
	}
}
