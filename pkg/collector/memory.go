package collector

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/insightflo/perfmon/pkg/types"
)

// MemoryReader samples process memory
type MemoryReader interface {
	ReadMemory(ctx context.Context) (types.MemoryDetail, error)
}

// ProcessMemoryReader reads the RSS of a process and system memory usage
type ProcessMemoryReader struct {
	pid int32
}

// NewProcessMemoryReader reads the current process
func NewProcessMemoryReader() *ProcessMemoryReader {
	return &ProcessMemoryReader{pid: int32(os.Getpid())}
}

func (r *ProcessMemoryReader) ReadMemory(ctx context.Context) (types.MemoryDetail, error) {
	proc, err := process.NewProcessWithContext(ctx, r.pid)
	if err != nil {
		return types.MemoryDetail{}, fmt.Errorf("process %d: %w", r.pid, err)
	}
	info, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return types.MemoryDetail{}, fmt.Errorf("process memory: %w", err)
	}

	detail := types.MemoryDetail{RSSBytes: info.RSS}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		detail.SystemUsedPercent = vm.UsedPercent
	}
	return detail, nil
}
