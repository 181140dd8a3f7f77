package deviceinfo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func server(t *testing.T, delay time.Duration, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPublicIPFirstSuccessWins(t *testing.T) {
	slow := server(t, 2*time.Second, http.StatusOK, `{"ip":"198.51.100.9"}`)
	broken := server(t, 0, http.StatusInternalServerError, "")
	fast := server(t, 10*time.Millisecond, http.StatusOK, `{"origin":"203.0.113.7, 10.0.0.1"}`)

	c := NewCollector(WithEndpoints(slow.URL, broken.URL, fast.URL))
	started := time.Now()
	ip, err := c.PublicIP(context.Background())
	require.NoError(t, err)
	require.Equal(t, "203.0.113.7", ip)
	require.Less(t, time.Since(started), time.Second, "slow lookups are cancelled")
}

func TestPublicIPAttemptTimeout(t *testing.T) {
	slow := server(t, time.Second, http.StatusOK, `{"ip":"198.51.100.9"}`)
	c := NewCollector(WithEndpoints(slow.URL), WithAttemptTimeout(50*time.Millisecond))

	_, err := c.PublicIP(context.Background())
	require.ErrorIs(t, err, ErrNoPublicIP)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestPublicIPAllFail(t *testing.T) {
	garbage := server(t, 0, http.StatusOK, "<html>nope</html>")
	c := NewCollector(WithEndpoints(garbage.URL))
	_, err := c.PublicIP(context.Background())
	require.ErrorIs(t, err, ErrNoPublicIP)
	require.ErrorContains(t, err, "unrecognised response")

	_, err = NewCollector(WithEndpoints()).PublicIP(context.Background())
	require.ErrorIs(t, err, ErrNoPublicIP)
}

func TestParseIP(t *testing.T) {
	ip, err := parseIP([]byte("192.0.2.1\n"))
	require.NoError(t, err)
	require.Equal(t, "192.0.2.1", ip)

	ip, err = parseIP([]byte(`{"ip":"2001:db8::1","country":"NL"}`))
	require.NoError(t, err)
	require.Equal(t, "2001:db8::1", ip)
}

func TestCollectUsesInterfacesAndPublicIP(t *testing.T) {
	srv := server(t, 0, http.StatusOK, `{"ip":"203.0.113.5"}`)
	c := NewCollector(WithEndpoints(srv.URL))
	c.interfaces = func() ([]Interface, error) {
		return []Interface{
			{Name: "lo", Address: "127.0.0.1", Family: "IPv4", Internal: true},
			{Name: "eth0", Address: "fe80::1", MAC: "aa:bb:cc:dd:ee:ff", Family: "IPv6"},
			{Name: "eth0", Address: "10.1.2.3", MAC: "aa:bb:cc:dd:ee:ff", Family: "IPv4"},
		}, nil
	}
	c.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	info := c.Collect(context.Background())
	require.Equal(t, "10.1.2.3", info.LocalIP)
	require.Equal(t, "aa:bb:cc:dd:ee:ff", info.MACAddress)
	require.Equal(t, "203.0.113.5", info.PublicIP)
	require.Equal(t, "UTC", info.Timezone)
	require.Len(t, info.Interfaces, 3)

	m := info.Map()
	require.Equal(t, "10.1.2.3", m["local_ip"])
}

func TestCollectFallsBackWithoutNetwork(t *testing.T) {
	c := NewCollector(WithEndpoints())
	c.interfaces = func() ([]Interface, error) { return nil, errors.New("no permission") }

	info := c.Collect(context.Background())
	require.Equal(t, "127.0.0.1", info.LocalIP)
	require.Equal(t, "00:00:00:00:00:00", info.MACAddress)
	require.Empty(t, info.PublicIP)
}
