package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/townin/geocore/internal/pkg/metrics"
)

// fakePoolStat mirrors the pgxpool.Stat accessors the updater reads.
type fakePoolStat struct {
	acquired, idle, total int32
}

func (s fakePoolStat) AcquiredConns() int32 { return s.acquired }
func (s fakePoolStat) IdleConns() int32     { return s.idle }
func (s fakePoolStat) TotalConns() int32    { return s.total }

func TestUpdateDBPoolMetrics(t *testing.T) {
	metrics.UpdateDBPoolMetrics(fakePoolStat{acquired: 3, idle: 7, total: 10})

	if got := testutil.ToFloat64(metrics.DBPoolConnsAcquired); got != 3 {
		t.Errorf("acquired gauge = %f, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.DBPoolConnsIdle); got != 7 {
		t.Errorf("idle gauge = %f, want 7", got)
	}
	if got := testutil.ToFloat64(metrics.DBPoolConnsOpen); got != 10 {
		t.Errorf("open gauge = %f, want 10", got)
	}
}

func TestUpdateDBPoolMetrics_IgnoresUnknownShape(t *testing.T) {
	metrics.UpdateDBPoolMetrics(fakePoolStat{acquired: 1, idle: 1, total: 1})
	metrics.UpdateDBPoolMetrics(struct{}{})

	if got := testutil.ToFloat64(metrics.DBPoolConnsOpen); got != 1 {
		t.Errorf("open gauge = %f after unknown stat, want unchanged 1", got)
	}
}
