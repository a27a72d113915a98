package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kloudnuk/bacnet-gateway/internal/config"
	"github.com/kloudnuk/bacnet-gateway/internal/store"
)

const sampleIni = `[device]
objectIdentifier = 10
objectName = gateway-1
vendorIdentifier = 260
tz = UTC
nukid = nuk-abc-123

[network]
interface = eth0
maxApduLengthAccepted = 1476
maxSegmentsAccepted = 16

[mongodb]
connectionString = mongodb://localhost:27017
certpath = /etc/gateway/client.pem
dbname = gateway

[device-discovery]
enable = true
interval = 300
timeout = 5

[point-discovery]
enable = true
interval = 600

[point-polling]
enable = true
interval = 5
`

func newStore(t *testing.T) *config.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "local-device.ini")
	require.NoError(t, os.WriteFile(path, []byte(sampleIni), 0644))
	s, err := config.New(path)
	require.NoError(t, err)
	return s
}

type unreachableDatabase struct {
	*store.FakeDatabase
}

func (unreachableDatabase) Ping(ctx context.Context) error {
	return errors.New("connection refused")
}

func TestBootstrapFailsFatallyWhenDatabaseUnreachable(t *testing.T) {
	cfg := newStore(t)
	db := unreachableDatabase{store.NewFake()}

	err := Bootstrap(context.Background(), db, cfg)
	require.Error(t, err)
}

func TestBootstrapSucceedsWhenDatabaseReachableAndConfigInitialized(t *testing.T) {
	cfg := newStore(t)
	db := store.NewFake()

	require.NoError(t, Bootstrap(context.Background(), db, cfg))
}

func TestStartRunsAllRegisteredTasks(t *testing.T) {
	var count int32
	rt := New(context.Background())
	rt.Register(func(ctx context.Context) { atomic.AddInt32(&count, 1) })
	rt.Register(func(ctx context.Context) { atomic.AddInt32(&count, 1) })

	rt.Start()
	rt.Stop()

	assert.Equal(t, int32(2), atomic.LoadInt32(&count))
}

func TestStopCancelsContextPassedToTasks(t *testing.T) {
	rt := New(context.Background())
	cancelled := make(chan struct{})
	rt.Register(func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	})

	rt.Start()
	rt.Stop()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task was not cancelled")
	}
}

func TestTickerRunsImmediatelyThenOnPeriod(t *testing.T) {
	var calls int32
	task := Ticker(20*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	task(ctx)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}
