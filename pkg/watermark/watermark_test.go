package watermark

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ts(seconds int) time.Time {
	return time.Unix(int64(seconds), 0)
}

func TestVectorOutputsMinimumAcrossInputs(t *testing.T) {
	v := NewVector(2)

	out, advanced := v.Advance(0, ts(10))
	assert.False(t, advanced, "input 1 has not reported, so the minimum is still the zero time")
	assert.Equal(t, time.Time{}, out)

	out, advanced = v.Advance(1, ts(5))
	assert.True(t, advanced)
	assert.Equal(t, ts(5), out, "output tracks the slowest input")
}

func TestVectorNeverRegresses(t *testing.T) {
	v := NewVector(1)
	_, _ = v.Advance(0, ts(10))

	out, advanced := v.Advance(0, ts(3))

	assert.False(t, advanced)
	assert.Equal(t, ts(10), out)
}

func TestVectorDoesNotAdvanceUntilAllInputsHaveReported(t *testing.T) {
	v := NewVector(2)

	out, advanced := v.Advance(0, ts(100))

	assert.False(t, advanced, "min across [100, zero-time] is the zero time, which is not after the current output")
	assert.True(t, out.Before(ts(100)))
}

func TestServiceFiresDueTimersInOrder(t *testing.T) {
	s := NewService()
	s.Schedule("a", ts(10), []byte("a-data"))
	s.Schedule("b", ts(5), []byte("b-data"))
	s.Schedule("c", ts(20), []byte("c-data"))

	due := s.Fire(ts(10))

	if assert.Len(t, due, 2) {
		assert.Equal(t, "b", due[0].Key)
		assert.Equal(t, "a", due[1].Key)
	}
	assert.Equal(t, 1, s.Len())
}

func TestServiceScheduleReplacesExistingKey(t *testing.T) {
	s := NewService()
	s.Schedule("a", ts(100), nil)
	s.Schedule("a", ts(5), []byte("replacement"))

	due := s.Fire(ts(5))

	require := assert.New(t)
	require.Len(due, 1)
	require.Equal([]byte("replacement"), due[0].Data)
	require.Equal(0, s.Len())
}

func TestServiceCancel(t *testing.T) {
	s := NewService()
	s.Schedule("a", ts(5), nil)

	s.Cancel("a")

	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Fire(ts(100)))
}
