package metrics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestNewSamplerDefaults(t *testing.T) {
	tests := []struct {
		name         string
		config       SamplerConfig
		wantInterval time.Duration
		wantHistory  int
	}{
		{
			name:         "default values",
			config:       SamplerConfig{Enabled: true},
			wantInterval: 5 * time.Second,
			wantHistory:  100,
		},
		{
			name:         "custom values",
			config:       SamplerConfig{Enabled: true, Interval: 10 * time.Second, MaxHistory: 50},
			wantInterval: 10 * time.Second,
			wantHistory:  50,
		},
		{
			name:         "disabled sampler",
			config:       SamplerConfig{Enabled: false},
			wantInterval: 5 * time.Second,
			wantHistory:  100,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSampler(tt.config)
			assert.NotNil(t, s)
			assert.Equal(t, tt.config.Enabled, s.enabled)
			assert.Equal(t, tt.wantInterval, s.interval)
			assert.Equal(t, tt.wantHistory, len(s.ring))
		})
	}
}

func TestSamplerRegisterMetrics(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: true, MaxHistory: 4})
	reg := prometheus.NewRegistry()
	assert.NoError(t, s.RegisterMetrics(reg))
	// idempotent
	assert.NoError(t, s.RegisterMetrics(reg))

	disabled := NewSampler(SamplerConfig{Enabled: false})
	assert.NoError(t, disabled.RegisterMetrics(reg))
}

func TestSamplerCollectSelf(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: true, MaxHistory: 4})
	s.collect(int32(os.Getpid()))

	latest, ok := s.Latest()
	assert.True(t, ok, "expected a sample of our own process")
	assert.Equal(t, int32(os.Getpid()), latest.PID)
	assert.Greater(t, latest.MemoryRSS, uint64(0))
	assert.False(t, latest.Timestamp.IsZero())
}

func TestSamplerMissingProcess(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: true, MaxHistory: 4})
	s.collect(0)
	if _, ok := s.Latest(); ok {
		t.Fatal("no sample expected for pid 0")
	}
	// A wildly out-of-range PID should not record either.
	s.collect(1 << 30)
	if _, ok := s.Latest(); ok {
		t.Fatal("no sample expected for a nonexistent pid")
	}
}

func TestSamplerRingOrder(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: true, MaxHistory: 3})
	for i := 1; i <= 5; i++ {
		s.record(Sample{PID: int32(i)})
	}
	history := s.History()
	assert.Len(t, history, 3)
	assert.Equal(t, int32(3), history[0].PID)
	assert.Equal(t, int32(5), history[2].PID)

	latest, ok := s.Latest()
	assert.True(t, ok)
	assert.Equal(t, int32(5), latest.PID)
}

func TestSamplerStartStop(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: true, Interval: 10 * time.Millisecond, MaxHistory: 8})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pid := int32(os.Getpid())
	s.Start(ctx, func() int32 { return pid })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := s.Latest(); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	_, ok := s.Latest()
	assert.True(t, ok, "sampler collected nothing before Stop")
}

func TestSamplerDisabledNoops(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: false})
	s.Start(context.Background(), func() int32 { return int32(os.Getpid()) })
	s.Stop()
	assert.Nil(t, s.History())
	_, ok := s.Latest()
	assert.False(t, ok)
	assert.False(t, s.IsEnabled())
}

func BenchmarkSamplerRecord(b *testing.B) {
	s := NewSampler(SamplerConfig{Enabled: true, MaxHistory: 100})
	sample := Sample{PID: 1, CPUPercent: 1.5, MemoryMB: 256}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.record(sample)
	}
}
