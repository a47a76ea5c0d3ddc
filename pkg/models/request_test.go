package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParsePriority(t *testing.T) {
	assert.Equal(t, PriorityHigh, ParsePriority("high"))
	assert.Equal(t, PriorityNormal, ParsePriority("normal"))
	assert.Equal(t, PriorityLow, ParsePriority("low"))
	assert.Equal(t, PriorityHigh, ParsePriority("HIGH"))

	// Unknown tokens are treated identically to "normal".
	assert.Equal(t, PriorityNormal, ParsePriority("urgent"))
	assert.Equal(t, PriorityNormal, ParsePriority(""))
}

func TestPriorityOrdering(t *testing.T) {
	assert.Less(t, int(PriorityHigh), int(PriorityNormal))
	assert.Less(t, int(PriorityNormal), int(PriorityLow))
	assert.Equal(t, 3, int(NumPriorities))
}

func TestExpired(t *testing.T) {
	now := time.Now()
	req := &Request{Deadline: now.Add(time.Second)}
	assert.False(t, req.Expired(now))
	assert.True(t, req.Expired(now.Add(2*time.Second)))
}

func TestTimeoutResult(t *testing.T) {
	req := &Request{ID: "r1"}
	res := TimeoutResult(req, 30*time.Second)
	assert.Equal(t, StatusTimeout, res.Status)
	assert.Same(t, req, res.Request)
	assert.Contains(t, res.ErrorMessage, "30s")
}
