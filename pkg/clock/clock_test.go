package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_AdvanceAndSet(t *testing.T) {
	start := time.Unix(1000, 0)
	fake := NewFake(start)

	assert.Equal(t, start, fake.Now())

	fake.Advance(30 * time.Second)
	assert.Equal(t, start.Add(30*time.Second), fake.Now())

	later := time.Unix(5000, 0)
	fake.Set(later)
	assert.Equal(t, later, fake.Now())
}

func TestReal_IsMonotonicEnough(t *testing.T) {
	c := Real()
	first := c.Now()
	second := c.Now()
	assert.False(t, second.Before(first))
}
