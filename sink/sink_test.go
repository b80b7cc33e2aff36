package sink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nickcrabtree/electricity-monitoring/energy"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	failures int
	calls    int
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) WriteReport(_ context.Context, _ *energy.Report) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("unavailable")
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testReport() *energy.Report {
	return &energy.Report{
		Timestamp:   time.Date(2026, 3, 18, 9, 30, 0, 0, time.UTC),
		TotalPowerW: 420.5,
		Home: map[energy.Period]float64{
			energy.PeriodDay:   1.25,
			energy.PeriodWeek:  8.5,
			energy.PeriodMonth: 31.0,
			energy.PeriodYear:  410.0,
		},
		Entities: map[string]map[energy.Period]float64{
			"tasmota.living_room_lamp": {
				energy.PeriodDay:   0.25,
				energy.PeriodWeek:  1.5,
				energy.PeriodMonth: 6.0,
				energy.PeriodYear:  70.0,
			},
		},
	}
}

func TestRetryPolicyFirstAttemptSucceeds(t *testing.T) {
	s := &fakeSink{}
	policy := RetryPolicy{MaxAttempts: 3, Backoff: time.Second}

	err := policy.Write(context.Background(), clockwork.NewFakeClock(), testLogger(), s, testReport())
	require.NoError(t, err)
	require.Equal(t, 1, s.calls)
}

func TestRetryPolicyRetriesWithBackoff(t *testing.T) {
	s := &fakeSink{failures: 2}
	policy := RetryPolicy{MaxAttempts: 3, Backoff: time.Second}
	clock := clockwork.NewFakeClock()

	done := make(chan error, 1)
	go func() {
		done <- policy.Write(context.Background(), clock, testLogger(), s, testReport())
	}()

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("write did not finish")
	}
	require.Equal(t, 3, s.calls)
}

func TestRetryPolicyGivesUpAfterMaxAttempts(t *testing.T) {
	s := &fakeSink{failures: 10}
	policy := RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond}

	err := policy.Write(context.Background(), clockwork.NewRealClock(), testLogger(), s, testReport())
	require.Error(t, err)
	require.Equal(t, 2, s.calls)
}

func TestRetryPolicyHonorsCancellation(t *testing.T) {
	s := &fakeSink{failures: 10}
	policy := RetryPolicy{MaxAttempts: 5, Backoff: time.Minute}
	clock := clockwork.NewFakeClock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- policy.Write(ctx, clock, testLogger(), s, testReport())
	}()

	clock.BlockUntil(1)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("write did not cancel")
	}
	require.Equal(t, 1, s.calls)
}

func TestBatchFromReport(t *testing.T) {
	bp, err := batchFromReport("electricity", "power", "home.electricity", testReport())
	require.NoError(t, err)

	points := bp.Points()
	require.Len(t, points, 2)

	byEntity := make(map[string]map[string]interface{}, len(points))
	for _, pt := range points {
		require.Equal(t, "power", pt.Name())
		require.Equal(t, "home.electricity", pt.Tags()["domain"])
		fields, err := pt.Fields()
		require.NoError(t, err)
		byEntity[pt.Tags()["entity"]] = fields
	}

	home := byEntity["aggregate"]
	require.NotNil(t, home)
	require.Equal(t, 420.5, home["power_watts"])
	require.Equal(t, 1.25, home["energy_kwh_daily"])
	require.Equal(t, 8.5, home["energy_kwh_weekly"])
	require.Equal(t, 31.0, home["energy_kwh_monthly"])
	require.Equal(t, 410.0, home["energy_kwh_yearly"])

	lamp := byEntity["tasmota.living_room_lamp"]
	require.NotNil(t, lamp)
	require.Equal(t, 0.25, lamp["energy_kwh_daily"])
	_, hasPower := lamp["power_watts"]
	require.False(t, hasPower, "entity points carry energy only")
}

func TestNewInfluxSinkValidation(t *testing.T) {
	_, err := NewInfluxSink(testLogger(), InfluxConfig{Database: "electricity"})
	require.Error(t, err)

	_, err = NewInfluxSink(testLogger(), InfluxConfig{URL: "http://localhost:8086"})
	require.Error(t, err)
}
