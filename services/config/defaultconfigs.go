package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: device name (the --device flag)
// Val: YAML for that device; a --config file is overlaid on top.
// -----------------------------------------------------------------------------

// sim runs without hardware: simulated sensors and gauge, loopback radio and
// an in-memory log.
const cfgSim = `
device: sim
cycle:
  interval: 10m
  usb_interval: 1m
  gauge_every: 24
  poll_every: 50ms
  join_retries: 3
  timeouts:
    sensor_init: 2s
    sensor_measure: 5s
    gauge_init: 2s
    gauge_active: 3s
    join: 30s
    send: 10s
slots:
  - {slot: 0, kind: sim, delay: 120ms}
  - {slot: 2, kind: sim, delay: 300ms, type_id: 0x7f02}
store:
  size: 262144
  page_size: 256
  block_size: 4096
radio:
  kind: loopback
gauge:
  kind: sim
heartbeat: 30s
`

// pi is a Raspberry Pi carrier: AHT20 on slot 0, BQ35100 gauge, MQTT
// uplink, file-backed flash and backup registers.
const cfgPi = `
device: pi
cycle:
  interval: 15m
  policy: equalized
  gauge_every: 48
slots:
  - {slot: 0, kind: aht20, addr: 0x38}
store:
  flash_path: /var/lib/fieldnode/flash.bin
  regs_path: /var/lib/fieldnode/bkp.yaml
  size: 1048576
  page_size: 256
  block_size: 4096
radio:
  kind: mqtt
  broker: tcp://localhost:1883
  qos: 1
  min_interval: 2m
gauge:
  kind: bq35100
  address: 0x55
i2c:
  bus: "1"
  speed_khz: 100
metrics: ":9100"
`

var embeddedConfigs = map[string][]byte{
	"sim": []byte(cfgSim),
	"pi":  []byte(cfgPi),
}
