// Package hostinfo describes the local host as an LNT machine.
package hostinfo

import (
	"context"
	"fmt"
	"strings"

	"github.com/llvm/lnt/pkg/fixture"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Info holds the facts gathered about a host.
type Info struct {
	Name        string
	Hardware    string
	OS          string
	Uname       string
	CPUModel    string
	CPUCores    int
	MemoryTotal uint64
}

// Collect gathers host facts. A non-empty name replaces the hostname as
// the machine name. CPU and memory facts are best effort.
func Collect(ctx context.Context, name string) (*Info, error) {
	hi, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading host info: %w", err)
	}

	cpus, _ := cpu.InfoWithContext(ctx)

	var vm *mem.VirtualMemoryStat
	if v, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		vm = v
	}

	return fromStats(hi, cpus, vm, name), nil
}

func fromStats(
	hi *host.InfoStat,
	cpus []cpu.InfoStat,
	vm *mem.VirtualMemoryStat,
	name string,
) *Info {
	if name == "" {
		name = hi.Hostname
	}

	info := &Info{
		Name:     name,
		Hardware: hi.KernelArch,
		OS:       join(osName(hi.OS), hi.KernelVersion),
		Uname: join(
			osName(hi.OS), hi.Hostname, hi.KernelVersion,
			hi.Platform, hi.PlatformVersion, hi.KernelArch,
		),
	}

	if len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName

		for _, c := range cpus {
			info.CPUCores += int(c.Cores)
		}
	}

	if vm != nil {
		info.MemoryTotal = vm.Total
	}

	return info
}

// Machine returns the host as a fixture machine entry.
func (i *Info) Machine() fixture.Machine {
	return fixture.Machine{
		Name:     i.Name,
		Hardware: i.Hardware,
		OS:       i.OS,
		Uname:    i.Uname,
	}
}

// osName spells the kernel name the way uname -s does.
func osName(goos string) string {
	switch goos {
	case "darwin":
		return "Darwin"
	case "linux":
		return "Linux"
	case "freebsd":
		return "FreeBSD"
	case "windows":
		return "Windows"
	}

	return goos
}

func join(parts ...string) string {
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}

	return strings.Join(out, " ")
}
