package health

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/powermeter/helpers"
	"github.com/temoto/powermeter/internal/reading"
)

func TestTrackerSequences(t *testing.T) {
	t.Parallel()

	const E = reading.ErrVoltage
	cases := []struct {
		name   string
		masks  []reading.ErrorMask
		expect []Outcome
		dead   bool
	}{
		{"clean", []reading.ErrorMask{0, 0, 0}, []Outcome{OutcomeClean, OutcomeClean, OutcomeClean}, false},
		{"three-errors", []reading.ErrorMask{E, E, E}, []Outcome{OutcomeSoftError, OutcomeSoftError, OutcomeDied}, true},
		{"alternating", []reading.ErrorMask{E, 0, E, 0, E, E, 0}, []Outcome{
			OutcomeSoftError, OutcomeClean, OutcomeSoftError, OutcomeClean, OutcomeSoftError, OutcomeSoftError, OutcomeClean}, false},
		{"reset-then-die", []reading.ErrorMask{E, E, 0, E, E, E}, []Outcome{
			OutcomeSoftError, OutcomeSoftError, OutcomeClean, OutcomeSoftError, OutcomeSoftError, OutcomeDied}, true},
		{"dead-is-final", []reading.ErrorMask{E, E, E, 0, 0}, []Outcome{
			OutcomeSoftError, OutcomeSoftError, OutcomeDied, OutcomeIgnored, OutcomeIgnored}, true},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			tr := NewTracker(1, DefaultDeadThreshold)
			got := make([]Outcome, 0, len(c.masks))
			for _, m := range c.masks {
				got = append(got, tr.Observe(m))
			}
			assert.Equal(t, c.expect, got)
			assert.Equal(t, c.dead, tr.Dead())
		})
	}
}

// Dead iff 3 consecutive errors have been seen since last clean outcome.
func TestTrackerRandom(t *testing.T) {
	t.Parallel()

	rnd := helpers.RandUnix()
	for iter := 0; iter < 500; iter++ {
		tr := NewTracker(0, DefaultDeadThreshold)
		run, everDead := uint(0), false
		for step := 0; step < 20; step++ {
			mask := reading.ErrorMask(0)
			if rnd.Intn(2) == 0 {
				mask = reading.ErrorMask(1 << uint(rnd.Intn(6)))
			}
			tr.Observe(mask)
			if !everDead {
				if mask == 0 {
					run = 0
				} else {
					run++
				}
				everDead = run >= DefaultDeadThreshold
			}
			require.Equal(t, everDead, tr.Dead(), "iter=%d step=%d", iter, step)
			if tr.Dead() {
				require.GreaterOrEqual(t, tr.ConsecutiveErrors(), uint(DefaultDeadThreshold))
			}
		}
	}
}

func TestBoard(t *testing.T) {
	t.Parallel()

	assert.False(t, Board{}.AllDead())
	b := NewBoard(3, 0)
	require.Len(t, b, 3)
	for i, tr := range b {
		assert.Equal(t, uint16(i), tr.ID())
		assert.Equal(t, uint(DefaultDeadThreshold), tr.Threshold())
	}
	for i := 0; i < 3; i++ {
		b[0].Observe(reading.ErrPower)
		b[1].Observe(reading.ErrPower)
	}
	assert.False(t, b.AllDead())
	for i := 0; i < 3; i++ {
		b[2].Observe(reading.ErrFrequency)
	}
	assert.True(t, b.AllDead())

	js, err := json.Marshal(b.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, `[{"id":0,"state":"dead","consecutive_errors":3},{"id":1,"state":"dead","consecutive_errors":3},{"id":2,"state":"dead","consecutive_errors":3}]`, string(js))
}
