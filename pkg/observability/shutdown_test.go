package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_Order(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), time.Second)

	var order []string
	sm.RegisterShutdownFunc("database", func(context.Context) error {
		order = append(order, "database")
		return nil
	})
	sm.RegisterShutdownFunc("cron", func(context.Context) error {
		order = append(order, "cron")
		return nil
	})

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, []string{"cron", "database"}, order)
}

func TestShutdownManager_JoinsErrors(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), time.Second)

	errRedis := errors.New("redis close failed")
	ran := false
	sm.RegisterShutdownFunc("database", func(context.Context) error {
		ran = true
		return nil
	})
	sm.RegisterShutdownFunc("redis", func(context.Context) error { return errRedis })

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errRedis)
	assert.True(t, ran)
}

func TestShutdownManager_StopsServers(t *testing.T) {
	ts := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Start()
	defer ts.Close()

	sm := NewShutdownManager(NewNopLogger(), 0, ts.Config)
	assert.Equal(t, 30*time.Second, sm.shutdownTimeout)
	require.NoError(t, sm.Shutdown(context.Background()))

	_, err := http.Get(ts.URL)
	assert.Error(t, err)
}

func TestShutdownManager_WaitForShutdownOnContext(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), time.Second)

	done := make(chan struct{})
	sm.RegisterShutdownFunc("marker", func(context.Context) error {
		close(done)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, sm.WaitForShutdown(ctx))

	select {
	case <-done:
	default:
		t.Fatal("shutdown func did not run")
	}
}
