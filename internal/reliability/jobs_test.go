package reliability

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaintenanceJob(t *testing.T) {
	db := newHistoryDB(t)
	job := NewMaintenanceJob(db, t.TempDir(), zerolog.Nop())
	job.usage = func(string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Free: 50 << 30, UsedPercent: 40}, nil
	}

	assert.Equal(t, "history_maintenance", job.Name())
	require.NoError(t, job.Run())
}

func TestMaintenanceJob_DiskSpace(t *testing.T) {
	db := newHistoryDB(t)
	job := NewMaintenanceJob(db, t.TempDir(), zerolog.Nop())

	job.usage = func(string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Free: 100 << 20}, nil
	}
	assert.ErrorContains(t, job.Run(), "GB free")

	job.usage = func(string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Free: 1 << 30}, nil
	}
	assert.NoError(t, job.Run(), "low space only warns")

	job.usage = func(string) (*disk.UsageStat, error) {
		return nil, errors.New("no such filesystem")
	}
	assert.Error(t, job.Run())
}
