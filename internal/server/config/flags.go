package config

import (
	"flag"
	"os"
	"time"

	"github.com/paperdesk/paperdesk/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      session token validity, minutes
//	-r int      refresh token validity, hours
//	-x int      reset token validity, minutes
//	-w int      sweep interval, minutes
//	-l int      failed-login threshold before backoff
//	-b string   public base URL for OAuth redirects
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - Duration flags are accepted as integers and converted to time.Duration.
//   - Provider client credentials carry secrets and are configured via the
//     JSON file only.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-t", "-r", "-x", "-w", "-l", "-b"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	sessionTokenValidity := fs.Int("t", int(config.SessionTokenValidityDuration.Minutes()), "session_token_validity_duration (in minutes)")
	refreshTokenValidity := fs.Int("r", int(config.RefreshTokenValidityDuration.Hours()), "refresh_token_validity_duration (in hours)")
	resetTokenValidity := fs.Int("x", int(config.ResetTokenValidityDuration.Minutes()), "reset_token_validity_duration (in minutes)")
	sweepInterval := fs.Int("w", int(config.SweepInterval.Minutes()), "sweep_interval (in minutes)")

	fs.IntVar(&config.LoginFailureThreshold, "l", config.LoginFailureThreshold, "failed login threshold")
	fs.StringVar(&config.PublicBaseURL, "b", config.PublicBaseURL, "public base URL")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.SessionTokenValidityDuration = time.Duration(*sessionTokenValidity) * time.Minute
	config.RefreshTokenValidityDuration = time.Duration(*refreshTokenValidity) * time.Hour
	config.ResetTokenValidityDuration = time.Duration(*resetTokenValidity) * time.Minute
	config.SweepInterval = time.Duration(*sweepInterval) * time.Minute
}
