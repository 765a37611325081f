// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"time"

	"autoref/internal/models"
)

// Config carries everything the orchestrator reads from the environment.
// A .env file is honored via godotenv autoload in main.
type Config struct {
	// Capacity bound per lobby variant: how many rooms of each kind may be
	// live at once.
	LobbyCaps map[models.MatchKind]int

	// GraceLong is the extension armed on the first incomplete-roster cycle
	// (initializing), GraceShort on later ones (waiting). ResumeWindow is
	// the pause between picks.
	GraceLong    time.Duration
	GraceShort   time.Duration
	ResumeWindow time.Duration

	// InitialTimerFloor is the minimum initial timer regardless of how
	// close the scheduled time already is.
	InitialTimerFloor time.Duration

	// CloseDelay is how long a finished room stays open before teardown.
	CloseDelay time.Duration

	// StartCountdown is the in-room countdown passed to every match start.
	StartCountdown int

	BanchoAddr      string
	BanchoUser      string
	BanchoPass      string
	BanchoSystemBot string

	ResultsAPIBase string
	ResultsAPIKey  string

	// StaffFallbackRole is mentioned in escalations when a match has no
	// referee assigned.
	StaffFallbackRole string

	Port string
}

// Load reads the configuration from environment variables, filling defaults
// for everything optional.
func Load() *Config {
	return &Config{
		LobbyCaps: map[models.MatchKind]int{
			models.KindTryout:    getEnvInt("TRYOUT_LOBBY_CAP", 4),
			models.KindQualifier: getEnvInt("QUALIFIER_LOBBY_CAP", 4),
		},
		GraceLong:         getEnvSeconds("GRACE_LONG_SEC", 180),
		GraceShort:        getEnvSeconds("GRACE_SHORT_SEC", 60),
		ResumeWindow:      getEnvSeconds("RESUME_SEC", 120),
		InitialTimerFloor: getEnvSeconds("INITIAL_TIMER_FLOOR_SEC", 120),
		CloseDelay:        getEnvSeconds("CLOSE_DELAY_SEC", 30),
		StartCountdown:    getEnvInt("START_COUNTDOWN_SEC", 10),

		BanchoAddr:      getEnv("BANCHO_ADDR", "irc.ppy.sh:6667"),
		BanchoUser:      os.Getenv("BANCHO_USER"),
		BanchoPass:      os.Getenv("BANCHO_PASS"),
		BanchoSystemBot: getEnv("BANCHO_SYSTEM_BOT", "BanchoBot"),

		ResultsAPIBase: getEnv("RESULTS_API_BASE", "https://osu.ppy.sh/api"),
		ResultsAPIKey:  os.Getenv("RESULTS_API_KEY"),

		StaffFallbackRole: getEnv("STAFF_FALLBACK_ROLE", "Referee"),

		Port: getEnv("PORT", "8080"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Second
}
