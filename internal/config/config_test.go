package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleIni = `
[device]
objectIdentifier = 599
objectName = test-gateway
vendorIdentifier = 260
tz = UTC
nukid = abc-123

[network]
interface = eth0
maxApduLengthAccepted = 1476
maxSegmentsAccepted = 16

[mongodb]
connectionString = mongodb://localhost
certpath = /etc/gateway/client.pem
dbname = building

[device-discovery]
enable = True
interval = 300
timeout = 5

[point-discovery]
enable = True
interval = 600

[point-polling]
enable = True
interval = 5
`

func writeSample(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "local-device.ini")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestNewLoadsAndCoerces(t *testing.T) {
	dir := t.TempDir()
	path := writeSample(t, dir, sampleIni)

	store, err := New(path)
	require.NoError(t, err)
	assert.True(t, store.Initialized())

	v, err := store.Read("device-discovery", "interval")
	require.NoError(t, err)
	assert.Equal(t, 300, v)

	v, err = store.Read("device-discovery", "enable")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = store.Read("device", "objectName")
	require.NoError(t, err)
	assert.Equal(t, "test-gateway", v)
}

func TestNewFailsOnMissingSchema(t *testing.T) {
	dir := t.TempDir()
	path := writeSample(t, dir, "[device]\nobjectIdentifier = 1\n")
	_, err := New(path)
	assert.Error(t, err)
}

type recordingSubscriber struct {
	calls []string
}

func (r *recordingSubscriber) Notify(section, option string, value interface{}) {
	r.calls = append(r.calls, section+"."+option)
}

func TestSyncNotifiesInterestedSubscribersOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeSample(t, dir, sampleIni)

	store, err := New(path)
	require.NoError(t, err)

	sub := &recordingSubscriber{}
	store.Subscribe(sub, "point-polling", "interval")

	// unchanged sync: no notification
	require.NoError(t, store.Sync())
	assert.Empty(t, sub.calls)

	updated := strings.Replace(sampleIni, "interval = 5\n", "interval = 10\n", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	require.NoError(t, store.Sync())
	require.Len(t, sub.calls, 1)
	assert.Equal(t, "point-polling.interval", sub.calls[0])

	v, err := store.Read("point-polling", "interval")
	require.NoError(t, err)
	assert.Equal(t, 10, v)
}

func TestSyncIgnoresSubscribersOutsideInterestSet(t *testing.T) {
	dir := t.TempDir()
	path := writeSample(t, dir, sampleIni)

	store, err := New(path)
	require.NoError(t, err)

	sub := &recordingSubscriber{}
	store.Subscribe(sub, "point-polling", "enable") // not "interval"

	updated := strings.Replace(sampleIni, "interval = 5\n", "interval = 10\n", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	require.NoError(t, store.Sync())
	assert.Empty(t, sub.calls)
}

func TestWriteOptionPersistsToDisk(t *testing.T) {
	dir := t.TempDir()
	path := writeSample(t, dir, sampleIni)

	store, err := New(path)
	require.NoError(t, err)

	require.NoError(t, store.WriteOption("device-discovery", "interval", 30))

	fresh, err := New(path)
	require.NoError(t, err)
	v, err := fresh.Read("device-discovery", "interval")
	require.NoError(t, err)
	assert.Equal(t, 30, v)
}
