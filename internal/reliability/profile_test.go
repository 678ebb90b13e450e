package reliability

import (
	"testing"
	"time"

	"github.com/creditrail/creditrail/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestDefaultProfile(t *testing.T) {
	p := Default()
	assert.Equal(t, 0.9999, p.DeliverySuccessTarget)
	assert.Equal(t, 0.999, p.AckRoundTripTarget)
	assert.Equal(t, 5*time.Second, p.PublishLatencyP95)
	assert.Equal(t, 15*time.Minute, p.RecoveryTimeObjective)
	assert.Equal(t, 5*time.Minute, p.RecoveryPointObjective)
}

func TestFailureClassesAreDistinct(t *testing.T) {
	classes := FailureClasses()
	assert.Len(t, classes, 9)

	seen := map[types.FailureClass]bool{}
	for _, class := range classes {
		assert.False(t, seen[class], "failure class %s listed twice", class)
		seen[class] = true
	}
	assert.True(t, seen[types.FailureRetryExhausted])
	assert.True(t, seen[types.FailureUnknown])
}
