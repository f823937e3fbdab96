package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fieldnode-go/services/config"
	"fieldnode-go/services/logstore"
	"fieldnode-go/services/node"
	"fieldnode-go/services/sensors"
	"fieldnode-go/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "fieldnode", cmd.Use)
	assert.Contains(t, cmd.Long, "--config")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"run", "dump", "recover", "erase"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err, "command %s should exist", name)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	device := cmd.PersistentFlags().Lookup("device")
	require.NotNil(t, device)
	assert.Equal(t, "d", device.Shorthand)
	assert.Equal(t, "sim", device.DefValue)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	run, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)
	for _, name := range []string{"metrics", "cycles", "tick", "usb"} {
		assert.NotNil(t, run.Flags().Lookup(name), name)
	}
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"recover", "--format", "xml"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

// writeConfig points the sim profile's log at files under t.TempDir.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := "store:\n" +
		"  flash_path: " + filepath.Join(dir, "flash.img") + "\n" +
		"  regs_path: " + filepath.Join(dir, "regs.yaml") + "\n" +
		"  size: 16384\n" +
		"  page_size: 256\n" +
		"  block_size: 4096\n"
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func seed(t *testing.T, path string, n int) {
	t.Helper()
	cfg, err := config.Load("sim", path)
	require.NoError(t, err)
	st, _, closer, err := node.OpenStore(cfg)
	require.NoError(t, err)
	defer closer.Close()
	_, err = st.Recover()
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		rec := logstore.Record{Timestamp: 1_700_000_000 + uint32(i)*600}
		p := sensors.AppendClimate(nil, types.ClimateValue{DeciC: int16(200 + i), DeciRH: 450})
		rec.Sensor.Slot = uint8(i % 2)
		rec.Sensor.TypeID = sensors.TypeClimate
		rec.Sensor.ProtocolID = sensors.ProtocolI2C
		rec.Sensor.DataSize = uint8(copy(rec.Sensor.Data[:], p))
		rec.Base.MessageType = logstore.MsgMeasurement
		rec.Base.BatteryEOS = 90
		rec.Base.GaugeTemp = 21
		rec.Base.ControllerTemp = 24
		require.NoError(t, st.Append(&rec))
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	return out.String(), err
}

func TestDumpText(t *testing.T) {
	path := writeConfig(t)
	seed(t, path, 3)

	out, err := execute(t, "dump", "-c", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "2023-11-14T22:13:20Z")
	assert.Contains(t, lines[2], "type=0x0101")
}

func TestDumpJSONFromAndLimit(t *testing.T) {
	path := writeConfig(t)
	seed(t, path, 5)

	out, err := execute(t, "dump", "-c", path, "--format", "json", "--from", "2", "--limit", "2")
	require.NoError(t, err)

	dec := json.NewDecoder(strings.NewReader(out))
	var got []recordJSON
	for dec.More() {
		var r recordJSON
		require.NoError(t, dec.Decode(&r))
		got = append(got, r)
	}
	require.Len(t, got, 2)
	assert.Equal(t, uint32(2), got[0].ID)
	assert.Equal(t, uint32(3), got[1].ID)
	require.NotNil(t, got[0].DeciC)
	assert.Equal(t, int16(202), *got[0].DeciC)
	assert.Equal(t, uint8(90), got[0].EOS)
	assert.Equal(t, int8(21), got[0].GaugeTemp)
	assert.Equal(t, int8(24), got[0].ChipTemp)
}

func TestRecoverReportsCursor(t *testing.T) {
	path := writeConfig(t)
	seed(t, path, 4)

	out, err := execute(t, "recover", "-c", path, "--format", "json")
	require.NoError(t, err)

	var rc recoverJSON
	require.NoError(t, json.Unmarshal([]byte(out), &rc))
	assert.Equal(t, uint32(4), rc.NextID)
	assert.Equal(t, uint32(0), rc.OldestID)
	assert.Equal(t, uint32(4), rc.Available)
	assert.Equal(t, uint32(64), rc.Capacity)
}

func TestEraseNeedsConfirmation(t *testing.T) {
	path := writeConfig(t)
	seed(t, path, 2)

	_, err := execute(t, "erase", "-c", path)
	require.Error(t, err)

	out, err := execute(t, "erase", "-c", path, "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "erase 100%")

	out, err = execute(t, "dump", "-c", path)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))
}

func TestStoreCommandsNeedFlashPath(t *testing.T) {
	_, err := execute(t, "recover")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flash_path")
}
