package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MayankBharati/solidtracker/internal/api"
	"github.com/MayankBharati/solidtracker/internal/deviceinfo"
	"github.com/MayankBharati/solidtracker/internal/logging"
)

type recordingReporter struct {
	mu   sync.Mutex
	reqs []api.DeviceHeartbeatRequest
}

func (r *recordingReporter) Heartbeat(ctx context.Context, req api.DeviceHeartbeatRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return nil
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

func TestHeartbeatReportsUntilCancelled(t *testing.T) {
	ipSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ip":"203.0.113.7"}`))
	}))
	defer ipSrv.Close()

	reporter := &recordingReporter{}
	collector := deviceinfo.NewCollector(deviceinfo.WithEndpoints(ipSrv.URL))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		heartbeat(ctx, reporter, collector, 20*time.Millisecond, logging.Discard())
	}()

	require.Eventually(t, func() bool { return reporter.count() >= 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	first := reporter.reqs[0]
	require.NotEmpty(t, first.MACAddress)
	require.Equal(t, "203.0.113.7", first.Info["public_ip"])
}
