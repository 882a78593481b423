package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/sugawarayuuta/sonnet"

	"github.com/hedeqiang/dropwatch/connection"
	"github.com/hedeqiang/dropwatch/endpoint"
	"github.com/hedeqiang/dropwatch/event"
	"github.com/hedeqiang/dropwatch/shutdown"
)

type fakeConn struct {
	live  bool
	stats connection.Stats
}

func (f *fakeConn) Live() bool              { return f.live }
func (f *fakeConn) Stats() connection.Stats { return f.stats }

type fakeEndpoints map[string]endpoint.Health

func (f fakeEndpoints) Health(url string) endpoint.Health { return f[url] }

type size int

func (s size) Size() int { return int(s) }

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newMonitor(conn *fakeConn, heapMB uint64, fatal *shutdown.Signal) (*Monitor, *Stats) {
	stats := NewStats()
	ep := "https://mainnet.base.org"
	conn.stats.Endpoint = endpoint.New(ep)
	m := NewMonitor(DefaultConfig(), stats, conn,
		fakeEndpoints{ep: {Healthy: true, Latency: 120 * time.Millisecond, ConsecutiveFailures: 1}},
		size(3), fatal, zerolog.Nop(),
		WithClock(func() time.Time { return t0 }),
		WithHeapReader(func() uint64 { return heapMB << 20 }),
	)
	return m, stats
}

func TestStatsDistinctCounts(t *testing.T) {
	s := NewStats()
	tokA := event.Address{1}
	tokB := event.Address{2}
	for i := 0; i < 10; i++ {
		s.RecordTransfer(event.TransferRecord{Token: tokA, Counterparty: event.Address{byte(i)}, ObservedAt: t0.Add(time.Duration(i) * time.Second)})
	}
	s.RecordTransfer(event.TransferRecord{Token: tokB, Counterparty: event.Address{0}, ObservedAt: t0})
	s.RecordError()
	s.RecordMalformed()
	s.RecordMalformed()

	snap := s.Snapshot()
	require.Equal(t, uint64(11), snap.Transfers)
	require.Equal(t, uint64(1), snap.Errors)
	require.Equal(t, uint64(2), snap.Malformed)
	require.Equal(t, t0.Add(9*time.Second), snap.LastTransferAt)
	require.InDelta(t, 2, float64(snap.DistinctTokens), 0.5)
	require.InDelta(t, 10, float64(snap.DistinctCounterparties), 0.5)
}

func TestReportTriggersMemoryCeiling(t *testing.T) {
	fatal := shutdown.NewSignal()
	m, _ := newMonitor(&fakeConn{live: true}, 600, fatal)

	r := m.Report(t0)
	require.Equal(t, uint64(600), r.HeapMB)

	select {
	case f := <-fatal.C():
		require.Equal(t, "memory ceiling", f.Reason)
	default:
		t.Fatal("expected fatal shutdown")
	}
}

func TestReportBelowCeiling(t *testing.T) {
	fatal := shutdown.NewSignal()
	m, _ := newMonitor(&fakeConn{live: true}, 100, fatal)

	r := m.Report(t0.Add(time.Hour))
	require.Equal(t, "1h0m0s", r.Uptime)
	require.Equal(t, 3, r.Watched)
	require.Equal(t, "120ms", r.Latency)
	require.Equal(t, 1, r.Failures)
	select {
	case <-fatal.C():
		t.Fatal("unexpected fatal shutdown")
	default:
	}
}

func TestHealthzStatus(t *testing.T) {
	conn := &fakeConn{live: false, stats: connection.Stats{State: connection.Selecting, TotalReconnects: 4}}
	m, _ := newMonitor(conn, 10, shutdown.NewSignal())
	h := m.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var r Report
	require.NoError(t, sonnet.Unmarshal(rec.Body.Bytes(), &r))
	require.False(t, r.Live)
	require.Equal(t, 4, r.Reconnects)

	conn.live = true
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "dropwatch_")
}
