// Package config resolves the firmware settings: embedded JSON defaults
// per board, optionally overlaid with a YAML file on the host.
package config

import (
	"os"
	"time"

	"github.com/andreyvit/tinyjson"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"blecopter-go/services/ble"
	"blecopter-go/services/control"
	"blecopter-go/services/indications"
	"blecopter-go/services/power"
	"blecopter-go/types"
)

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(board string) ([]byte, bool) {
	b, ok := embeddedConfigs[board]
	return b, ok
}

// -----------------------------------------------------------------------------
// Settings
// -----------------------------------------------------------------------------

type Settings struct {
	LogLevel    string      `yaml:"log_level"`
	BLE         BLE         `yaml:"ble"`
	Power       Power       `yaml:"power"`
	Control     Control     `yaml:"control"`
	Indications Indications `yaml:"indications"`
	Heartbeat   Heartbeat   `yaml:"heartbeat"`
	Gate        Gate        `yaml:"gate"`
}

type BLE struct {
	DeviceName          string        `yaml:"device_name"`
	ScanTimeout         time.Duration `yaml:"scan_timeout"`
	ScanRetryDelay      time.Duration `yaml:"scan_retry_delay"`
	LinkRetryDelay      time.Duration `yaml:"link_retry_delay"`
	AdvertiseRetryDelay time.Duration `yaml:"advertise_retry_delay"`
}

type Power struct {
	RetryInterval time.Duration `yaml:"retry_interval"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	InitTries     int           `yaml:"init_tries"`
	InitPoll      time.Duration `yaml:"init_poll"`
}

type Control struct {
	RateHz         int           `yaml:"rate_hz"`
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
	OutputLimit    float32       `yaml:"output_limit"`
	GyroEvery      int           `yaml:"gyro_every"`
	PID            PID           `yaml:"pid"`
}

type PID struct {
	P float32 `yaml:"p"`
	I float32 `yaml:"i"`
	D float32 `yaml:"d"`
}

type Indications struct {
	Fast  time.Duration `yaml:"fast"`
	Slow  time.Duration `yaml:"slow"`
	Pulse time.Duration `yaml:"pulse"`
}

type Heartbeat struct {
	Interval time.Duration `yaml:"interval"`
}

type Gate struct {
	RestartDelay time.Duration `yaml:"restart_delay"`
}

// -----------------------------------------------------------------------------
// Loading
// -----------------------------------------------------------------------------

// Embedded parses the board's embedded defaults.
func Embedded(board string) (Settings, error) {
	raw, ok := EmbeddedConfigLookup(board)
	if !ok || len(raw) == 0 {
		return Settings{}, errors.New("no embedded config for board: " + board)
	}
	m, err := parseJSON(raw)
	if err != nil {
		return Settings{}, errors.Wrapf(err, "embedded config %s", board)
	}
	var s Settings
	if err := s.fromMap(m); err != nil {
		return Settings{}, errors.Wrapf(err, "embedded config %s", board)
	}
	return s, nil
}

// Overlay applies a YAML document on top of s. Keys it does not name keep
// their current values.
func (s *Settings) Overlay(doc []byte) error {
	return errors.Wrap(yaml.Unmarshal(doc, s), "yaml overlay")
}

// Load returns the board defaults, overlaid with path when it is not
// empty, and validated.
func Load(board, path string) (Settings, error) {
	s, err := Embedded(board)
	if err != nil {
		return s, err
	}
	if path != "" {
		doc, err := os.ReadFile(path)
		if err != nil {
			return s, errors.Wrap(err, "read config")
		}
		if err := s.Overlay(doc); err != nil {
			return s, err
		}
	}
	return s, s.Validate()
}

// parseJSON decodes a JSON object. tinyjson reports syntax errors by
// panicking; they are turned into errors here.
func parseJSON(raw []byte) (m map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("invalid json: %v", r)
		}
	}()
	r := tinyjson.Raw(raw)
	val := r.Value()
	r.EnsureEOF()

	m, ok := val.(map[string]any)
	if !ok {
		return nil, errors.New("config is not a JSON object")
	}
	return m, nil
}

// -----------------------------------------------------------------------------
// Validation
// -----------------------------------------------------------------------------

// Validate rejects settings the services cannot run with.
func (s Settings) Validate() error {
	if _, err := logrus.ParseLevel(s.LogLevel); err != nil {
		return errors.Errorf("log_level: unknown level %q", s.LogLevel)
	}
	if s.BLE.DeviceName == "" {
		return errors.New("ble.device_name: empty")
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"ble.scan_timeout", s.BLE.ScanTimeout},
		{"ble.scan_retry_delay", s.BLE.ScanRetryDelay},
		{"ble.link_retry_delay", s.BLE.LinkRetryDelay},
		{"ble.advertise_retry_delay", s.BLE.AdvertiseRetryDelay},
		{"power.retry_interval", s.Power.RetryInterval},
		{"power.init_poll", s.Power.InitPoll},
		{"control.receive_timeout", s.Control.ReceiveTimeout},
		{"indications.fast", s.Indications.Fast},
		{"indications.slow", s.Indications.Slow},
		{"indications.pulse", s.Indications.Pulse},
		{"heartbeat.interval", s.Heartbeat.Interval},
		{"gate.restart_delay", s.Gate.RestartDelay},
	} {
		if d.v <= 0 {
			return errors.Errorf("%s: must be positive, got %v", d.name, d.v)
		}
	}
	if s.Power.PollInterval < 0 {
		return errors.Errorf("power.poll_interval: negative")
	}
	if s.Power.InitTries <= 0 {
		return errors.Errorf("power.init_tries: must be positive, got %d", s.Power.InitTries)
	}
	if s.Control.RateHz <= 0 || s.Control.RateHz > 1000 {
		return errors.Errorf("control.rate_hz: out of range, got %d", s.Control.RateHz)
	}
	if s.Control.OutputLimit <= 0 {
		return errors.Errorf("control.output_limit: must be positive")
	}
	if s.Control.GyroEvery < 0 {
		return errors.Errorf("control.gyro_every: negative")
	}
	if s.Indications.Pulse >= s.Indications.Fast {
		return errors.Errorf("indications.pulse: %v does not fit in the fast period %v", s.Indications.Pulse, s.Indications.Fast)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Service views
// -----------------------------------------------------------------------------

func (s Settings) CentralConfig() ble.CentralConfig {
	return ble.CentralConfig{
		ScanTimeout:    s.BLE.ScanTimeout,
		ScanRetryDelay: s.BLE.ScanRetryDelay,
		RetryDelay:     s.BLE.LinkRetryDelay,
	}
}

func (s Settings) PeripheralConfig() ble.PeripheralConfig {
	return ble.PeripheralConfig{
		DeviceName:          s.BLE.DeviceName,
		AdvertiseRetryDelay: s.BLE.AdvertiseRetryDelay,
	}
}

func (s Settings) PowerConfig() power.Config {
	cfg := power.DefaultConfig()
	cfg.RetryInterval = s.Power.RetryInterval
	cfg.PollInterval = s.Power.PollInterval
	cfg.InitTries = s.Power.InitTries
	cfg.InitPoll = s.Power.InitPoll
	return cfg
}

func (s Settings) ControlConfig() control.Config {
	return control.Config{
		RateHz:         uint32(s.Control.RateHz),
		ReceiveTimeout: s.Control.ReceiveTimeout,
		OutputLimit:    s.Control.OutputLimit,
		InitialPID:     types.PID{P: s.Control.PID.P, I: s.Control.PID.I, D: s.Control.PID.D},
		GyroEvery:      s.Control.GyroEvery,
		RestartDelay:   s.Gate.RestartDelay,
	}
}

func (s Settings) IndicationsConfig() indications.Config {
	return indications.Config{Fast: s.Indications.Fast, Slow: s.Indications.Slow, Pulse: s.Indications.Pulse}
}

// -----------------------------------------------------------------------------
// JSON object mapping
// -----------------------------------------------------------------------------

func (s *Settings) fromMap(m map[string]any) error {
	d := decoder{}
	d.str(m, "log_level", &s.LogLevel)

	b := d.obj(m, "ble")
	d.str(b, "device_name", &s.BLE.DeviceName)
	d.dur(b, "scan_timeout", &s.BLE.ScanTimeout)
	d.dur(b, "scan_retry_delay", &s.BLE.ScanRetryDelay)
	d.dur(b, "link_retry_delay", &s.BLE.LinkRetryDelay)
	d.dur(b, "advertise_retry_delay", &s.BLE.AdvertiseRetryDelay)

	p := d.obj(m, "power")
	d.dur(p, "retry_interval", &s.Power.RetryInterval)
	d.dur(p, "poll_interval", &s.Power.PollInterval)
	d.integer(p, "init_tries", &s.Power.InitTries)
	d.dur(p, "init_poll", &s.Power.InitPoll)

	c := d.obj(m, "control")
	d.integer(c, "rate_hz", &s.Control.RateHz)
	d.dur(c, "receive_timeout", &s.Control.ReceiveTimeout)
	d.f32(c, "output_limit", &s.Control.OutputLimit)
	d.integer(c, "gyro_every", &s.Control.GyroEvery)
	pid := d.obj(c, "pid")
	d.f32(pid, "p", &s.Control.PID.P)
	d.f32(pid, "i", &s.Control.PID.I)
	d.f32(pid, "d", &s.Control.PID.D)

	ind := d.obj(m, "indications")
	d.dur(ind, "fast", &s.Indications.Fast)
	d.dur(ind, "slow", &s.Indications.Slow)
	d.dur(ind, "pulse", &s.Indications.Pulse)

	d.dur(d.obj(m, "heartbeat"), "interval", &s.Heartbeat.Interval)
	d.dur(d.obj(m, "gate"), "restart_delay", &s.Gate.RestartDelay)
	return d.err
}

// decoder reads typed fields out of a decoded JSON object. Missing keys
// are left alone; the first type mismatch is kept in err.
type decoder struct {
	err error
}

func (d *decoder) fail(key string, v any, want string) {
	if d.err == nil {
		d.err = errors.Errorf("%s: want %s, got %T", key, want, v)
	}
}

func (d *decoder) obj(m map[string]any, key string) map[string]any {
	v, ok := m[key]
	if !ok {
		return nil
	}
	o, ok := v.(map[string]any)
	if !ok {
		d.fail(key, v, "object")
		return nil
	}
	return o
}

func (d *decoder) str(m map[string]any, key string, dst *string) {
	v, ok := m[key]
	if !ok {
		return
	}
	s, ok := v.(string)
	if !ok {
		d.fail(key, v, "string")
		return
	}
	*dst = s
}

func (d *decoder) num(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok {
		d.fail(key, v, "number")
		return 0, false
	}
	return f, true
}

func (d *decoder) integer(m map[string]any, key string, dst *int) {
	if f, ok := d.num(m, key); ok {
		*dst = int(f)
	}
}

func (d *decoder) f32(m map[string]any, key string, dst *float32) {
	if f, ok := d.num(m, key); ok {
		*dst = float32(f)
	}
}

// dur accepts a Go duration string.
func (d *decoder) dur(m map[string]any, key string, dst *time.Duration) {
	var s string
	d.str(m, key, &s)
	if s == "" {
		return
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		if d.err == nil {
			d.err = errors.Wrapf(err, "%s", key)
		}
		return
	}
	*dst = v
}
