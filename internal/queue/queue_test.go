package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 10 * time.Second, MaxDelay: 5 * time.Minute}

	assert.Equal(t, 10*time.Second, p.Backoff(1))
	assert.Equal(t, 20*time.Second, p.Backoff(2))
	assert.Equal(t, 40*time.Second, p.Backoff(3))
	assert.Equal(t, 80*time.Second, p.Backoff(4))
	assert.Equal(t, 160*time.Second, p.Backoff(5))
	assert.Equal(t, 5*time.Minute, p.Backoff(6))
	assert.Equal(t, 5*time.Minute, p.Backoff(20), "delay never exceeds the cap")
}

func TestBackoffClampsAttempt(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute}

	assert.Equal(t, time.Second, p.Backoff(0))
	assert.Equal(t, time.Second, p.Backoff(-3))
}

func TestServerConfigsSeparateResourceClasses(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute}

	gpu := GPUServerConfig(1, p, zap.NewNop())
	assert.Equal(t, 1, gpu.Concurrency, "one in-flight job per GPU slot")
	assert.Equal(t, map[string]int{"gpu:high": 6, "gpu": 3, "gpu:low": 1}, gpu.Queues)

	cpu := CPUServerConfig(4, p, zap.NewNop())
	assert.Equal(t, 4, cpu.Concurrency)
	assert.Equal(t, map[string]int{"cpu:high": 6, "cpu": 3, "cpu:low": 1}, cpu.Queues)
}

func TestQueueForPriorityTiers(t *testing.T) {
	assert.Equal(t, "gpu", queueFor("gpu", 0), "unset priority goes to the default tier")
	assert.Equal(t, "gpu:low", queueFor("gpu", 1))
	assert.Equal(t, "gpu:low", queueFor("gpu", 3))
	assert.Equal(t, "gpu", queueFor("gpu", 4))
	assert.Equal(t, "gpu", queueFor("gpu", 6))
	assert.Equal(t, "gpu:high", queueFor("gpu", 7))
	assert.Equal(t, "cpu:high", queueFor("cpu", 10))
}

func TestQueueTiersCoverEveryRoutableQueue(t *testing.T) {
	tiers := queueTiers("gpu")
	for _, priority := range []int{0, 1, 5, 7, 10} {
		name := queueFor("gpu", priority)
		assert.Contains(t, tiers, name, "priority %d routes to an unserved queue", priority)
	}
}

func TestRetryDelayFuncUsesPolicy(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: time.Minute}
	cfg := GPUServerConfig(1, p, zap.NewNop())

	assert.Equal(t, 2*time.Second, cfg.RetryDelayFunc(1, nil, nil))
	assert.Equal(t, 8*time.Second, cfg.RetryDelayFunc(3, nil, nil))
}
