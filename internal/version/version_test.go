package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLinkedValuesWin(t *testing.T) {
	oldV, oldC, oldT := Version, GitCommit, BuildTime
	t.Cleanup(func() { Version, GitCommit, BuildTime = oldV, oldC, oldT })

	Version = "v1.2.3"
	GitCommit = "0123456789abcdef"
	BuildTime = "2026-01-02T03:04:05Z"

	info := GetBuildInfo()
	assert.Equal(t, "v1.2.3", info.Version)
	assert.Equal(t, "0123456789abcdef", info.GitCommit)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), info.BuildTime)
	assert.NotEmpty(t, info.GoVersion)
	assert.Equal(t, "v1.2.3 (0123456)", GetShortVersion())
}

func TestUnparsableBuildTime(t *testing.T) {
	assert.True(t, parseBuildTime("unknown").IsZero())
	assert.True(t, parseBuildTime("yesterday").IsZero())
}
