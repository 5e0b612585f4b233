package commands

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgecli/xplnet/internal/xpl"
)

func TestBuildMessage(t *testing.T) {
	src := xpl.MustAddress("xpl", "cli", "test")

	msg, err := buildMessage("cmnd", src, "acme-lamp.kitchen", "control.basic", []string{"device=lamp", "current=on"})
	require.NoError(t, err)
	assert.Equal(t, xpl.Command, msg.Type)
	assert.Equal(t, xpl.MustAddress("acme", "lamp", "kitchen"), msg.Target)
	assert.Equal(t, "control.basic", msg.Schema.String())
	assert.Equal(t, []string{"device", "current"}, []string{msg.Body[0].Name, msg.Body[1].Name})

	msg, err = buildMessage("xpl-trig", src, "*", "sensor.basic", nil)
	require.NoError(t, err)
	assert.Equal(t, xpl.Trigger, msg.Type)
	assert.True(t, msg.Target.IsBroadcast())
}

func TestBuildMessageRejectsBadInput(t *testing.T) {
	src := xpl.MustAddress("xpl", "cli", "test")

	_, err := buildMessage("shout", src, "*", "control.basic", nil)
	assert.ErrorIs(t, err, xpl.ErrValidation)

	_, err = buildMessage("cmnd", src, "*", "nodot", nil)
	assert.ErrorIs(t, err, xpl.ErrValidation)

	_, err = buildMessage("cmnd", src, "*", "control.basic", []string{"novalue"})
	assert.Error(t, err)
}

func TestMonitorPredicate(t *testing.T) {
	src := xpl.MustAddress("acme", "sensor", "hall")
	hb := xpl.NewHeartbeat(src, xpl.MustSchema("hbeat", "app"), 5*time.Minute, xpl.HeartbeatInfo{})
	trig := xpl.NewMessage(xpl.Trigger, src, xpl.Broadcast, xpl.MustSchema("sensor", "basic"))

	all := monitorPredicate(nil, false)
	assert.True(t, all(hb))
	assert.True(t, all(trig))

	noHB := monitorPredicate(nil, true)
	assert.False(t, noHB(hb))
	assert.True(t, noHB(trig))

	filters, err := parseFilters([]string{"xpl-trig.acme.*.*.sensor.*"})
	require.NoError(t, err)
	only := monitorPredicate(filters, false)
	assert.True(t, only(trig))
	assert.False(t, only(hb))

	_, err = parseFilters([]string{"not-a-filter"})
	assert.Error(t, err)
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0600))

	cmd := &cobra.Command{}
	cmd.Flags().Bool("verbose", false, "")
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("log-level", "", "")
	require.NoError(t, cmd.Flags().Set("config", path))

	cfg, paths, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, filepath.Join(dir, "device.yaml"), paths.DeviceFile)

	require.NoError(t, cmd.Flags().Set("verbose", "true"))
	cfg, _, err = loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}
