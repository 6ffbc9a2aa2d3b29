package config

import (
	"encoding/json"
	"os"

	"github.com/paperdesk/paperdesk/internal/flagx"
	"github.com/paperdesk/paperdesk/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "15m" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. After unmarshalling, its fields are copied into the
// runtime Config struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddrHTTP             string         `json:"endpoint_addr_http"`
	DatabaseDSN                  string         `json:"database_dsn"`
	SecretKey                    string         `json:"secret_key"`
	SessionTokenValidityDuration timex.Duration `json:"session_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	ResetTokenValidityDuration   timex.Duration `json:"reset_token_validity_duration"`
	RequestTimeout               timex.Duration `json:"request_timeout"`
	SweepInterval                timex.Duration `json:"sweep_interval"`
	LoginFailureThreshold        int            `json:"login_failure_threshold"`
	LoginBackoffWindow           timex.Duration `json:"login_backoff_window"`
	LoginBackoffMax              timex.Duration `json:"login_backoff_max"`
	PublicBaseURL                string         `json:"public_base_url"`
	GoogleClientID               string         `json:"google_client_id"`
	GoogleClientSecret           string         `json:"google_client_secret"`
	GitHubClientID               string         `json:"github_client_id"`
	GitHubClientSecret           string         `json:"github_client_secret"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path comes from the -c or -config command-line flags; when
// neither is set, no JSON file is loaded. If the file cannot be read or
// contains invalid JSON, the function panics.
//
// The caller is expected to merge these values with defaults and
// command-line flags as part of the full configuration process.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.SessionTokenValidityDuration = c.SessionTokenValidityDuration.Duration
	config.RefreshTokenValidityDuration = c.RefreshTokenValidityDuration.Duration
	config.ResetTokenValidityDuration = c.ResetTokenValidityDuration.Duration
	config.RequestTimeout = c.RequestTimeout.Duration
	config.SweepInterval = c.SweepInterval.Duration
	config.LoginFailureThreshold = c.LoginFailureThreshold
	config.LoginBackoffWindow = c.LoginBackoffWindow.Duration
	config.LoginBackoffMax = c.LoginBackoffMax.Duration
	config.PublicBaseURL = c.PublicBaseURL
	config.GoogleClientID = c.GoogleClientID
	config.GoogleClientSecret = c.GoogleClientSecret
	config.GitHubClientID = c.GitHubClientID
	config.GitHubClientSecret = c.GitHubClientSecret
}
