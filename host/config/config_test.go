package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"can29/host/serial"
	"can29/protocol"
)

const sample = `
port:
  device: /dev/ttyUSB0
  baud: 9600
bus:
  checksum: xor8
  request_timeout: 250ms
capture:
  file: /tmp/can29.cbor
metrics:
  listen: ":9100"
axes:
  - name: focus
    address: 3
    device_id: 1
    application_name: StageX
    monitor: true
  - address: 3
    device_id: 2
    timeout: 2s
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB0", cfg.Port.Device)
	assert.Equal(t, 9600, cfg.Port.Baud)
	assert.Equal(t, serial.DefaultReadTimeout, cfg.Port.ReadTimeout)
	assert.Equal(t, uint8(0x11), cfg.Bus.HostAddress)
	assert.Equal(t, 250*time.Millisecond, cfg.Bus.RequestTimeout)
	assert.Equal(t, protocol.DefaultMaxPayload, cfg.Bus.MaxPayload)
	assert.Equal(t, "/tmp/can29.cbor", cfg.Capture.File)
	assert.Equal(t, ":9100", cfg.Metrics.Listen)

	require.Len(t, cfg.Axes, 2)
	focus, ok := cfg.Axis("focus")
	require.True(t, ok)
	assert.Equal(t, "StageX", focus.ApplicationName)
	assert.True(t, focus.Monitor)
	assert.Equal(t, 250*time.Millisecond, focus.Timeout)

	second, ok := cfg.Axis("axis1")
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, second.Timeout)

	codec, err := cfg.Codec()
	require.NoError(t, err)
	assert.Equal(t, "xor8", codec.Checksum.Name())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing device", "bus: {checksum: crc16}", "port.device is required"},
		{"bad checksum", "port: {device: x}\nbus: {checksum: md5}", "bus.checksum"},
		{"payload too large", "port: {device: x}\nbus: {max_payload: 300}", "bus.max_payload"},
		{"duplicate identity", "port: {device: x}\naxes: [{name: a, address: 3, device_id: 1}, {name: b, address: 3, device_id: 1}]", "share address 3/1"},
		{"duplicate name", "port: {device: x}\naxes: [{name: a, address: 3}, {name: a, address: 4}]", `axis "a" defined twice`},
		{"reserved address", "port: {device: x}\naxes: [{name: a, address: 255}]", "reserved"},
		{"broadcast host", "port: {device: x}\nbus: {host_address: 255}", "broadcast"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseRejectsBadYAML(t *testing.T) {
	_, err := Parse([]byte("port: [unterminated"))
	assert.ErrorContains(t, err, "parse config")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "can29.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Axes, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default("/dev/ttyACM0")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, serial.DefaultBaud, cfg.Port.Baud)
	assert.Equal(t, "crc16", cfg.Bus.Checksum)
	require.Len(t, cfg.Axes, 1)
	assert.Equal(t, uint8(3), cfg.Axes[0].Address)
	assert.Equal(t, cfg.Bus.RequestTimeout, cfg.Axes[0].Timeout)
}
