package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemNowMSMonotonic(t *testing.T) {
	c := System{}
	a := c.NowMS()
	time.Sleep(time.Millisecond)
	b := c.NowMS()
	assert.GreaterOrEqual(t, b, a)
}

func TestMockSetAndAdvance(t *testing.T) {
	m := NewMock(1000)
	assert.EqualValues(t, 1000, m.NowMS())

	m.Set(5000)
	assert.EqualValues(t, 5000, m.NowMS())

	got := m.Advance(250 * time.Millisecond)
	assert.EqualValues(t, 5250, got)
	assert.EqualValues(t, 5250, m.NowMS())
}

func TestMockCanRegress(t *testing.T) {
	m := NewMock(5000)
	m.Set(4000)
	assert.EqualValues(t, 4000, m.NowMS())
}
