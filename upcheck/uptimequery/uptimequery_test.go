package uptimequery

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"

	"github.com/uptimeops/upcheck/logger"
	"github.com/uptimeops/upcheck/upcheck/sessionmanager"
)

type MockSession struct {
	host   string
	closed bool
}

func (m *MockSession) Output(ctx context.Context, cmd string) (string, error) {
	return "", nil
}

func (m *MockSession) Close() error {
	m.closed = true
	return nil
}

func (m *MockSession) Remote() bool {
	return true
}

type MockDialer struct {
	dialErr  map[string]error
	sessions map[string]*MockSession
}

func (m *MockDialer) Dial(ctx context.Context, host string) (sessionmanager.Session, error) {
	if err := m.dialErr[host]; err != nil {
		return nil, err
	}
	sess := &MockSession{host: host}
	if m.sessions == nil {
		m.sessions = make(map[string]*MockSession)
	}
	m.sessions[host] = sess
	return sess, nil
}

// MockSource answers boot-time queries per host name. Hosts missing from both
// maps get a zero time, which the querier must treat as a failed query.
type MockSource struct {
	boots map[string]time.Time
	errs  map[string]error
}

func (m MockSource) LastBoot(ctx context.Context, sess sessionmanager.Session) (time.Time, error) {
	host := sess.(*MockSession).host
	if err := m.errs[host]; err != nil {
		return time.Time{}, err
	}
	return m.boots[host], nil
}

func TestRunStatusClassification(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	boot := now.Add(-45 * 24 * time.Hour)

	dialer := &MockDialer{
		dialErr: map[string]error{"db-02": errors.New("mock dial error")},
	}
	source := MockSource{
		boots: map[string]time.Time{"web-01": boot},
		errs:  map[string]error{"app-03": errors.New("command failed")},
	}

	logrusLogger, hook := logrustest.NewNullLogger()
	q := New(dialer, source,
		WithLogger(logger.FromLogrus(logrusLogger)),
		WithClock(func() time.Time { return now }),
	)

	results := q.Run(context.Background(), []string{"web-01", "db-02", "app-03"})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	assert.Equal(t, HostUptimeResult{
		ComputerName:     "web-01",
		StartTime:        boot.Format(StartTimeLayout),
		UptimeDays:       45.0,
		Status:           StatusOK,
		MightNeedPatched: true,
	}, results[0])

	assert.Equal(t, HostUptimeResult{
		ComputerName: "db-02",
		StartTime:    StartTimeUnavailable,
		Status:       StatusOffline,
	}, results[1])

	assert.Equal(t, HostUptimeResult{
		ComputerName: "app-03",
		StartTime:    StartTimeUnavailable,
		Status:       StatusError,
	}, results[2])

	var warnings []string
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warnings = append(warnings, entry.Message)
		}
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "db-02") {
		t.Errorf("expected a single warning naming db-02, got %v", warnings)
	}

	for host, sess := range dialer.sessions {
		if !sess.closed {
			t.Errorf("session for %s was not closed", host)
		}
	}
}

func TestRunDefaultsToLocalHost(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	dialer := &MockDialer{}
	source := MockSource{
		boots: map[string]time.Time{"testbox": now.Add(-12 * time.Hour)},
	}
	q := New(dialer, source,
		WithClock(func() time.Time { return now }),
		WithLocalHostname("testbox"),
	)

	results := q.Run(context.Background(), nil)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ComputerName != "testbox" {
		t.Errorf("ComputerName = %q, want testbox", results[0].ComputerName)
	}
	if results[0].Status != StatusOK {
		t.Errorf("Status = %v, want OK", results[0].Status)
	}
	if results[0].UptimeDays != 0.5 {
		t.Errorf("UptimeDays = %v, want 0.5", results[0].UptimeDays)
	}
}

func TestRunPatchThresholdBoundary(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		uptime    time.Duration
		wantDays  float64
		wantPatch bool
	}{
		{"exactly thirty days", 30 * 24 * time.Hour, 30.0, false},
		{"rounds down to thirty", 30*24*time.Hour + 30*time.Minute, 30.0, false},
		{"rounds up past thirty", 30*24*time.Hour + 3*time.Hour, 30.1, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dialer := &MockDialer{}
			source := MockSource{
				boots: map[string]time.Time{"srv": now.Add(-tc.uptime)},
			}
			q := New(dialer, source, WithClock(func() time.Time { return now }))

			res := q.Run(context.Background(), []string{"srv"})[0]
			if res.UptimeDays != tc.wantDays {
				t.Errorf("UptimeDays = %v, want %v", res.UptimeDays, tc.wantDays)
			}
			if res.MightNeedPatched != tc.wantPatch {
				t.Errorf("MightNeedPatched = %v, want %v", res.MightNeedPatched, tc.wantPatch)
			}
		})
	}
}

func TestRunZeroBootTimeIsError(t *testing.T) {
	dialer := &MockDialer{}
	q := New(dialer, MockSource{})

	res := q.Run(context.Background(), []string{"srv"})[0]
	if res.Status != StatusError {
		t.Errorf("Status = %v, want ERROR", res.Status)
	}
	if res.StartTime != StartTimeUnavailable || res.UptimeDays != 0 {
		t.Errorf("expected sentinel fields, got %q / %v", res.StartTime, res.UptimeDays)
	}
	if sess := dialer.sessions["srv"]; sess == nil || !sess.closed {
		t.Errorf("session was not closed after a failed query")
	}
}

func TestStreamEmitsPerHost(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	dialer := &MockDialer{
		dialErr: map[string]error{"down": errors.New("no route to host")},
	}
	source := MockSource{
		boots: map[string]time.Time{"up": now.Add(-24 * time.Hour)},
	}
	q := New(dialer, source, WithClock(func() time.Time { return now }))

	names := make(chan string)
	out := q.Stream(context.Background(), names)

	// Each result arrives before the next name is even submitted.
	names <- "up"
	first := <-out
	if first.ComputerName != "up" || first.Status != StatusOK {
		t.Fatalf("first result = %+v, want OK for up", first)
	}

	names <- "down"
	second := <-out
	if second.ComputerName != "down" || second.Status != StatusOffline {
		t.Fatalf("second result = %+v, want OFFLINE for down", second)
	}

	close(names)
	if _, ok := <-out; ok {
		t.Error("expected output channel to close after input closed")
	}
}

func TestStreamEmptyInputYieldsNothing(t *testing.T) {
	q := New(&MockDialer{}, MockSource{}, WithLocalHostname("testbox"))

	names := make(chan string)
	close(names)

	var results []HostUptimeResult
	for res := range q.Stream(context.Background(), names) {
		results = append(results, res)
	}
	if len(results) != 0 {
		t.Errorf("expected no results from an empty stream, got %v", results)
	}
}

func TestStreamStopsOnCancel(t *testing.T) {
	q := New(&MockDialer{}, MockSource{})

	ctx, cancel := context.WithCancel(context.Background())
	names := make(chan string)

	out := q.Stream(ctx, names)
	cancel()

	select {
	case _, ok := <-out:
		if ok {
			t.Error("expected channel to close without a result")
		}
	case <-time.After(time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}

func TestResultJSONFieldNames(t *testing.T) {
	b, err := json.Marshal(HostUptimeResult{
		ComputerName: "srv",
		StartTime:    StartTimeUnavailable,
		Status:       StatusOffline,
	})
	if err != nil {
		t.Fatal(err)
	}

	want := `{"computerName":"srv","startTime":"0","uptimeDays":0,"status":"OFFLINE","mightNeedPatched":false}`
	if string(b) != want {
		t.Errorf("JSON = %s, want %s", b, want)
	}
}
