package health

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/johnhenry/ai.captain-sub000/model"
)

func newMonitor(t *testing.T, opts ...Option) *Monitor {
	t.Helper()
	opts = append([]Option{
		WithInterval(10 * time.Millisecond),
		WithLogger(zap.NewNop()),
	}, opts...)
	m := NewMonitor(context.Background(), opts...)
	t.Cleanup(m.Close)
	return m
}

func TestMonitorProbesHealthy(t *testing.T) {
	m := newMonitor(t)
	m.Register("primary", model.NewScript("primary"))

	require.Eventually(t, func() bool {
		rec, ok := m.Record("primary")
		return ok && rec.Healthy()
	}, time.Second, 5*time.Millisecond)

	rec, _ := m.Record("primary")
	assert.Zero(t, rec.ErrorCount)
	assert.Empty(t, rec.LastError)
	assert.False(t, rec.LastCheckAt.IsZero())
}

func TestMonitorProbesUnhealthy(t *testing.T) {
	m := newMonitor(t)
	m.Register("broken", model.NewScript("broken",
		model.WithCapabilitiesError(errors.New("weights missing"))))

	require.Eventually(t, func() bool {
		rec, ok := m.Record("broken")
		return ok && rec.Status == StatusUnhealthy
	}, time.Second, 5*time.Millisecond)

	rec, _ := m.Record("broken")
	assert.GreaterOrEqual(t, rec.ErrorCount, 1)
	assert.Contains(t, rec.LastError, "weights missing")
}

func TestMonitorUnavailableCountsAsFailure(t *testing.T) {
	m := newMonitor(t)
	m.Register("offline", model.NewScript("offline",
		model.WithCapabilities(model.Capabilities{Availability: model.AvailabilityUnavailable})))

	require.Eventually(t, func() bool {
		rec, ok := m.Record("offline")
		return ok && rec.Status == StatusUnhealthy
	}, time.Second, 5*time.Millisecond)
}

// waitHealthy blocks until the registration probe has landed, so explicit
// reports afterwards are the last writer.
func waitHealthy(t *testing.T, m *Monitor, names ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, name := range names {
			rec, ok := m.Record(name)
			if !ok || !rec.Healthy() {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)
}

func TestReportOutcomes(t *testing.T) {
	// Long interval: after the registration probe, only explicit reports
	// drive state.
	m := newMonitor(t, WithInterval(time.Hour))
	m.Register("alt", model.NewScript("alt"))
	waitHealthy(t, m, "alt")

	m.ReportFailure("alt", errors.New("503 from backend"))
	rec, ok := m.Record("alt")
	require.True(t, ok)
	assert.Equal(t, StatusUnhealthy, rec.Status)
	assert.Contains(t, rec.LastError, "503")

	m.ReportSuccess("alt", 42*time.Millisecond)
	rec, _ = m.Record("alt")
	assert.Equal(t, StatusHealthy, rec.Status)
	assert.Equal(t, 42*time.Millisecond, rec.Latency)
	assert.Zero(t, rec.ErrorCount)
}

func TestRankHealthyAlternates(t *testing.T) {
	m := newMonitor(t, WithInterval(time.Hour))
	m.Register("primary", model.NewScript("primary"))
	m.Register("slow", model.NewScript("slow"))
	m.Register("fast", model.NewScript("fast"))
	m.Register("down", model.NewScript("down"))
	waitHealthy(t, m, "primary", "slow", "fast", "down")

	m.ReportSuccess("primary", 5*time.Millisecond)
	m.ReportSuccess("slow", 300*time.Millisecond)
	m.ReportSuccess("fast", 10*time.Millisecond)
	m.ReportFailure("down", errors.New("nope"))

	ranked := m.RankHealthyAlternates("primary")
	assert.Equal(t, []string{"fast", "slow"}, ranked)
}

func TestRankHealthyAlternatesTieByRegistration(t *testing.T) {
	m := newMonitor(t, WithInterval(time.Hour))
	m.Register("b", model.NewScript("b"))
	m.Register("a", model.NewScript("a"))
	waitHealthy(t, m, "b", "a")

	m.ReportSuccess("b", 10*time.Millisecond)
	m.ReportSuccess("a", 10*time.Millisecond)

	// Same latency: registration order wins, not lexical order.
	assert.Equal(t, []string{"b", "a"}, m.RankHealthyAlternates())
}

func TestRankHealthyAlternatesEmpty(t *testing.T) {
	m := newMonitor(t, WithInterval(time.Hour))
	m.Register("only", model.NewScript("only"))
	waitHealthy(t, m, "only")
	m.ReportFailure("only", errors.New("down"))

	assert.Empty(t, m.RankHealthyAlternates())
}

func TestDeregister(t *testing.T) {
	m := newMonitor(t)
	m.Register("gone", model.NewScript("gone"))
	m.Deregister("gone")

	_, ok := m.Record("gone")
	assert.False(t, ok)
	assert.Empty(t, m.RankHealthyAlternates())
}

func TestForceCheck(t *testing.T) {
	m := newMonitor(t, WithInterval(time.Hour))
	backend := model.NewScript("p")
	m.Register("p", backend)

	m.ForceCheck("p")
	rec, ok := m.Record("p")
	require.True(t, ok)
	assert.Equal(t, StatusHealthy, rec.Status)
}

func TestUnknownBackendReportIsNoop(t *testing.T) {
	m := newMonitor(t)
	m.ReportSuccess("missing", time.Millisecond)
	m.ReportFailure("missing", errors.New("x"))
	_, ok := m.Record("missing")
	assert.False(t, ok)
}
