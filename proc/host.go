package proc

import (
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/sys"
)

// Preset carries decoder and encoder parameters for one class of host.
type Preset struct {
	Name            string
	Bitrate         int64
	Threads         int
	BufferSize      int
	ProbeSize       int
	AnalyzeDuration int
}

var (
	// PresetConstrained targets low-memory and ARM hosts.
	PresetConstrained = Preset{
		Name:            "constrained",
		Bitrate:         64000,
		Threads:         1,
		BufferSize:      512 * 1024,
		ProbeSize:       1000000,
		AnalyzeDuration: 1000000,
	}
	PresetStandard = Preset{
		Name:            "standard",
		Bitrate:         128000,
		Threads:         2,
		BufferSize:      2 * 1024 * 1024,
		ProbeSize:       10000000,
		AnalyzeDuration: 10000000,
	}
)

const constrainedMemoryLimit = 2 << 30

// SelectPreset picks the constrained preset on ARM or below 2 GiB of RAM.
func SelectPreset(arch string, totalMemory uint64) Preset {
	if strings.HasPrefix(arch, "arm") || (totalMemory > 0 && totalMemory < constrainedMemoryLimit) {
		return PresetConstrained
	}
	return PresetStandard
}

// DetectHost inspects the running machine and returns the matching preset.
func DetectHost() Preset {
	var total uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		total = vm.Total
	}
	p := SelectPreset(runtime.GOARCH, total)
	sys.LogVoice(sys.MsgVoiceHostPreset, p.Name, runtime.GOARCH, total>>20)
	return p
}
