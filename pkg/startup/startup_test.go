package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type journal struct{ events []string }

func (j *journal) dep(name string, needs ...string) Func {
	return Func{
		Name:    name,
		Needs:   needs,
		StartFn: func(context.Context) error { j.events = append(j.events, "start "+name); return nil },
		StopFn:  func(context.Context) error { j.events = append(j.events, "stop "+name); return nil },
	}
}

func TestStartup_Order(t *testing.T) {
	j := &journal{}
	s := NewStartup(testLogger(), 1).Add(
		j.dep("http", "database", "redis"),
		j.dep("redis"),
		j.dep("database"),
	)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start database", "start redis", "start http"}, j.events)
	assert.Equal(t, StatusStarted, s.Status("http"))

	j.events = nil
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{"stop http", "stop redis", "stop database"}, j.events)
	assert.Equal(t, StatusStopped, s.Status("database"))
}

func TestStartup_RetriesFailedAttempts(t *testing.T) {
	calls := 0
	s := NewStartup(testLogger(), 3).Add(Func{
		Name: "database",
		StartFn: func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		},
	})
	s.backoffUnit = time.Millisecond

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 3, calls)
}

func TestStartup_GivesUp(t *testing.T) {
	boom := errors.New("connection refused")
	s := NewStartup(testLogger(), 2).Add(Func{Name: "database", StartFn: func(context.Context) error { return boom }})
	s.backoffUnit = time.Millisecond

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusFailed, s.Status("database"))
}

func TestStartup_UnknownAndCyclicDependencies(t *testing.T) {
	j := &journal{}
	assert.Error(t, NewStartup(testLogger(), 1).Add(j.dep("http", "database")).Start(context.Background()))
	assert.Error(t, NewStartup(testLogger(), 1).Add(j.dep("a", "b"), j.dep("b", "a")).Start(context.Background()))
}
