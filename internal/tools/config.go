package tools

import (
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config is read from the environment at startup.
type Config struct {
	LogLevel       string
	LogFile        string
	SSL            bool
	Port           string
	I2CBackend     string
	I2CBus         string
	Address        uint16
	WindowFactor   float64
	DBPath         string
	RecordInterval time.Duration
	Location       string
}

// LoadConfig reads every setting, falling back to the defaults for anything
// missing or unparseable.
func LoadConfig() Config {
	cfg := Config{
		LogLevel:       strings.ToLower(os.Getenv("LOG_LEVEL")),
		LogFile:        getenv("LOG_FILE", "uvm.log"),
		SSL:            os.Getenv("SSL") == "true",
		I2CBackend:     getenv("I2C_BACKEND", "devfs"),
		I2CBus:         getenv("I2C_BUS", "/dev/i2c-1"),
		Address:        0x53,
		WindowFactor:   1,
		DBPath:         getenv("DB_PATH", "uvmeter.db"),
		RecordInterval: 30 * time.Second,
		// Assume they are in EST, who has users? Not me.
		Location: getenv("TZ_LOCATION", "America/Indiana/Indianapolis"),
	}
	if cfg.SSL {
		cfg.Port = getenv("PORT", "443")
	} else {
		cfg.Port = getenv("PORT", "80")
	}

	if v := os.Getenv("LTR390_ADDR"); v != "" {
		addr, err := strconv.ParseUint(v, 0, 7)
		if err != nil {
			log.Warnf("Invalid LTR390_ADDR %q, using 0x53: %v", v, err)
		} else {
			cfg.Address = uint16(addr)
		}
	}
	if v := os.Getenv("WINDOW_FACTOR"); v != "" {
		wfac, err := strconv.ParseFloat(v, 64)
		if err != nil || wfac <= 0 {
			log.Warnf("Invalid WINDOW_FACTOR %q, using 1", v)
		} else {
			cfg.WindowFactor = wfac
		}
	}
	if v := os.Getenv("RECORD_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Warnf("Invalid RECORD_INTERVAL %q, using %v", v, cfg.RecordInterval)
		} else {
			cfg.RecordInterval = d
		}
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
