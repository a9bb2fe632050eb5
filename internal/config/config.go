package config

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	BindAddr string `mapstructure:"BIND_ADDR"`
	Env      string `mapstructure:"ENV"`

	DatabaseURL   string        `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL      string        `mapstructure:"REDIS_URL"`
	TrendCacheTTL time.Duration `mapstructure:"TREND_CACHE_TTL"`

	AuthTokenSecret   string `mapstructure:"AUTH_TOKEN_SECRET"`
	VendorCodesFile   string `mapstructure:"VENDOR_CODES_FILE"`
	AnonymizePatients bool   `mapstructure:"ANONYMIZE_PATIENTS"`

	HL7MinBytes       int `mapstructure:"HL7_MIN_BYTES"`
	HL7MaxBytes       int `mapstructure:"HL7_MAX_BYTES"`
	PatientIDMaxLen   int `mapstructure:"PATIENT_ID_MAX_LEN"`
	PatientNameMaxLen int `mapstructure:"PATIENT_NAME_MAX_LEN"`
	TextFieldMaxLen   int `mapstructure:"TEXT_FIELD_MAX_LEN"`

	BatteryERIVoltage     float64 `mapstructure:"BATTERY_ERI_VOLTAGE"`
	BatteryEOLVoltage     float64 `mapstructure:"BATTERY_EOL_VOLTAGE"`
	BatteryNominalVoltage float64 `mapstructure:"BATTERY_NOMINAL_VOLTAGE"`

	ImpedanceMinOhms         float64 `mapstructure:"IMPEDANCE_MIN_OHMS"`
	ImpedanceMaxOhms         float64 `mapstructure:"IMPEDANCE_MAX_OHMS"`
	ImpedanceFractureDelta   float64 `mapstructure:"IMPEDANCE_FRACTURE_DELTA"`
	ImpedanceInsulationDelta float64 `mapstructure:"IMPEDANCE_INSULATION_DELTA"`

	BurdenParoxysmalPct float64 `mapstructure:"BURDEN_PAROXYSMAL_PCT"`
	BurdenPersistentPct float64 `mapstructure:"BURDEN_PERSISTENT_PCT"`
	BurdenChronicPct    float64 `mapstructure:"BURDEN_CHRONIC_PCT"`

	EGMLowCutoffHz  float64 `mapstructure:"EGM_LOW_CUTOFF_HZ"`
	EGMHighCutoffHz float64 `mapstructure:"EGM_HIGH_CUTOFF_HZ"`
	EGMMinRRMs      float64 `mapstructure:"EGM_MIN_RR_MS"`
	EGMStripSeconds float64 `mapstructure:"EGM_STRIP_SECONDS"`
}

var defaults = map[string]interface{}{
	"PORT":                       "8000",
	"BIND_ADDR":                  "127.0.0.1",
	"ENV":                        "development",
	"DB_MAX_CONNS":               10,
	"DB_MIN_CONNS":               1,
	"TREND_CACHE_TTL":            "1h",
	"ANONYMIZE_PATIENTS":         false,
	"HL7_MIN_BYTES":              100,
	"HL7_MAX_BYTES":              50 * 1024 * 1024,
	"PATIENT_ID_MAX_LEN":         100,
	"PATIENT_NAME_MAX_LEN":       200,
	"TEXT_FIELD_MAX_LEN":         500,
	"BATTERY_ERI_VOLTAGE":        2.2,
	"BATTERY_EOL_VOLTAGE":        2.0,
	"BATTERY_NOMINAL_VOLTAGE":    2.8,
	"IMPEDANCE_MIN_OHMS":         200.0,
	"IMPEDANCE_MAX_OHMS":         1500.0,
	"IMPEDANCE_FRACTURE_DELTA":   500.0,
	"IMPEDANCE_INSULATION_DELTA": 300.0,
	"BURDEN_PAROXYSMAL_PCT":      1.0,
	"BURDEN_PERSISTENT_PCT":      10.0,
	"BURDEN_CHRONIC_PCT":         40.0,
	"EGM_LOW_CUTOFF_HZ":          0.5,
	"EGM_HIGH_CUTOFF_HZ":         100.0,
	"EGM_MIN_RR_MS":              200.0,
	"EGM_STRIP_SECONDS":          10.0,
}

// egmFastestRRMs is the RR interval at 250 bpm. A peak distance at or above
// it merges beats at the top of the detectable range.
const egmFastestRRMs = 60000.0 / 250

// Keys without a default that are still read from the environment.
var optional = []string{"DATABASE_URL", "REDIS_URL", "AUTH_TOKEN_SECRET", "VENDOR_CODES_FILE"}

// Load reads .env (if present) and the environment. DATABASE_URL is not
// required here; commands that touch the store call RequireDatabase.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, val := range defaults {
		v.SetDefault(key, val)
		_ = v.BindEnv(key)
	}
	for _, key := range optional {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsLoopback reports whether the API binds to a loopback address only.
func (c *Config) IsLoopback() bool {
	if c.BindAddr == "localhost" {
		return true
	}
	ip := net.ParseIP(c.BindAddr)
	return ip != nil && ip.IsLoopback()
}

// Addr is the listen address for the API server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.BindAddr, c.Port)
}

// RequireDatabase fails when DATABASE_URL is unset.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// Validate checks limits and the ordering of clinical thresholds.
func (c *Config) Validate() error {
	if c.HL7MinBytes <= 0 || c.HL7MaxBytes <= c.HL7MinBytes {
		return fmt.Errorf("HL7_MIN_BYTES (%d) must be positive and below HL7_MAX_BYTES (%d)", c.HL7MinBytes, c.HL7MaxBytes)
	}
	if c.PatientIDMaxLen <= 0 || c.PatientNameMaxLen <= 0 || c.TextFieldMaxLen <= 0 {
		return fmt.Errorf("field length limits must be positive")
	}
	if !(c.BatteryEOLVoltage < c.BatteryERIVoltage && c.BatteryERIVoltage < c.BatteryNominalVoltage) {
		return fmt.Errorf("battery thresholds must satisfy EOL < ERI < nominal, got %.2f/%.2f/%.2f",
			c.BatteryEOLVoltage, c.BatteryERIVoltage, c.BatteryNominalVoltage)
	}
	if c.ImpedanceMinOhms <= 0 || c.ImpedanceMaxOhms <= c.ImpedanceMinOhms {
		return fmt.Errorf("IMPEDANCE_MIN_OHMS must be positive and below IMPEDANCE_MAX_OHMS")
	}
	if c.ImpedanceFractureDelta <= 0 || c.ImpedanceInsulationDelta <= 0 {
		return fmt.Errorf("impedance deltas must be positive magnitudes")
	}
	if !(0 < c.BurdenParoxysmalPct && c.BurdenParoxysmalPct < c.BurdenPersistentPct && c.BurdenPersistentPct < c.BurdenChronicPct) {
		return fmt.Errorf("burden cutoffs must be increasing")
	}
	if c.EGMLowCutoffHz <= 0 || c.EGMHighCutoffHz <= c.EGMLowCutoffHz {
		return fmt.Errorf("EGM cutoffs must satisfy 0 < low < high")
	}
	if c.EGMMinRRMs <= 0 || c.EGMStripSeconds <= 0 {
		return fmt.Errorf("EGM_MIN_RR_MS and EGM_STRIP_SECONDS must be positive")
	}
	if c.EGMMinRRMs >= egmFastestRRMs {
		return fmt.Errorf("EGM_MIN_RR_MS must be below %.0f ms (250 bpm), got %.0f", egmFastestRRMs, c.EGMMinRRMs)
	}
	if c.TrendCacheTTL <= 0 {
		return fmt.Errorf("TREND_CACHE_TTL must be positive")
	}
	return nil
}
