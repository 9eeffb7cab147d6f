package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: board name, as selected by the build.
// Val: raw JSON bytes for that board. Durations are Go duration strings.
// -----------------------------------------------------------------------------

const cfgNRF52 = `{
  "log_level": "info",
  "ble": {
    "device_name": "Syma S107",
    "scan_timeout": "10s",
    "scan_retry_delay": "100ms",
    "link_retry_delay": "100ms",
    "advertise_retry_delay": "1s"
  },
  "power": {
    "retry_interval": "10s",
    "poll_interval": "1s",
    "init_tries": 10,
    "init_poll": "1s"
  },
  "control": {
    "rate_hz": 200,
    "receive_timeout": "1s",
    "output_limit": 1000,
    "gyro_every": 20,
    "pid": {"p": 2.0, "i": 0.0, "d": 0.0}
  },
  "indications": {
    "fast": "1s",
    "slow": "2s",
    "pulse": "50ms"
  },
  "heartbeat": {
    "interval": "10s"
  },
  "gate": {
    "restart_delay": "100ms"
  }
}`

// The simulator runs the same firmware with faster power polling so a
// short session shows telemetry.
const cfgSim = `{
  "log_level": "debug",
  "ble": {
    "device_name": "Syma S107 (sim)",
    "scan_timeout": "2s",
    "scan_retry_delay": "100ms",
    "link_retry_delay": "200ms",
    "advertise_retry_delay": "1s"
  },
  "power": {
    "retry_interval": "2s",
    "poll_interval": "250ms",
    "init_tries": 10,
    "init_poll": "100ms"
  },
  "control": {
    "rate_hz": 200,
    "receive_timeout": "1s",
    "output_limit": 1000,
    "gyro_every": 20,
    "pid": {"p": 2.0, "i": 0.0, "d": 0.0}
  },
  "indications": {
    "fast": "1s",
    "slow": "2s",
    "pulse": "50ms"
  },
  "heartbeat": {
    "interval": "2s"
  },
  "gate": {
    "restart_delay": "100ms"
  }
}`

var embeddedConfigs = map[string][]byte{
	"nrf52": []byte(cfgNRF52),
	"sim":   []byte(cfgSim),
}
