package timesource

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	ts := time.Date(2024, time.March, 5, 7, 8, 9, 0, time.Local)
	assert.Equal(t, "2024-03-05T07:08:09", Format(ts))
}

func TestSystemUsesClock(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, time.January, 2, 3, 4, 5, 0, time.Local))
	src := NewSystem(mock)

	assert.Equal(t, "2024-01-02T03:04:05", src.CurrentDateTime())

	mock.Add(90 * time.Second)
	assert.Equal(t, "2024-01-02T03:05:35", src.CurrentDateTime())
}

func TestSystemUnsetClock(t *testing.T) {
	// A fresh mock clock sits at the Unix epoch, like an RTC that was never set.
	src := NewSystem(clock.NewMock())
	assert.Equal(t, "", src.CurrentDateTime())
}

func TestSystemDefaultsToRealClock(t *testing.T) {
	src := NewSystem(nil)
	got := src.CurrentDateTime()
	_, err := time.ParseInLocation(Layout, got, time.Local)
	assert.NoError(t, err)
}
