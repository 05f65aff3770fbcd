package hostinfo

import (
	"context"
	"testing"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStats(t *testing.T) {
	hi := &host.InfoStat{
		Hostname:        "localhost",
		OS:              "darwin",
		Platform:        "darwin",
		PlatformVersion: "11.3.0",
		KernelVersion:   "11.3.0",
		KernelArch:      "x86_64",
	}

	cpus := []cpu.InfoStat{
		{ModelName: "Intel(R) Core(TM) i7", Cores: 4},
		{ModelName: "Intel(R) Core(TM) i7", Cores: 4},
	}

	info := fromStats(hi, cpus, &mem.VirtualMemoryStat{Total: 8 << 30}, "")

	assert.Equal(t, &Info{
		Name:        "localhost",
		Hardware:    "x86_64",
		OS:          "Darwin 11.3.0",
		Uname:       "Darwin localhost 11.3.0 darwin 11.3.0 x86_64",
		CPUModel:    "Intel(R) Core(TM) i7",
		CPUCores:    8,
		MemoryTotal: 8 << 30,
	}, info)

	m := info.Machine()
	assert.Equal(t, "localhost", m.Name)
	assert.Equal(t, "Darwin 11.3.0", m.OS)
	assert.Zero(t, m.ID)
}

func TestFromStats_NameOverrideAndMissingFacts(t *testing.T) {
	info := fromStats(&host.InfoStat{
		Hostname:   "builder-7",
		OS:         "linux",
		KernelArch: "aarch64",
	}, nil, nil, "clang-aarch64")

	assert.Equal(t, "clang-aarch64", info.Name)
	assert.Equal(t, "Linux", info.OS)
	assert.Equal(t, "Linux builder-7 aarch64", info.Uname)
	assert.Zero(t, info.CPUCores)
	assert.Zero(t, info.MemoryTotal)
}

func TestCollect(t *testing.T) {
	info, err := Collect(context.Background(), "override")
	require.NoError(t, err)
	assert.Equal(t, "override", info.Name)
	assert.NotEmpty(t, info.OS)
}
