package builder

import (
	"context"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sirupsen/logrus"
)

// MemoryProbe reports the total physical memory of the host in bytes.
type MemoryProbe func(ctx context.Context) (uint64, error)

// HostMemory reads total RAM from the operating system.
func HostMemory(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Total, nil
}

// chunkCap returns the number of segments this host may index. It never
// exceeds maxChunks (zero means no cap); hosts at or below lowMemory get
// lowMemoryMax instead.
// A failed probe leaves maxChunks in place.
func chunkCap(ctx context.Context, probe MemoryProbe, log logrus.FieldLogger, maxChunks int, lowMemory uint64, lowMemoryMax int) int {
	limit := maxChunks
	if probe == nil || lowMemory == 0 || lowMemoryMax <= 0 {
		return limit
	}
	total, err := probe(ctx)
	if err != nil {
		log.WithError(err).Warn("memory probe failed, skipping RAM cap")
		return limit
	}
	if total <= lowMemory && (limit <= 0 || lowMemoryMax < limit) {
		log.WithFields(logrus.Fields{
			"total_bytes": total,
			"max_chunks":  lowMemoryMax,
		}).Info("low memory host, reducing chunk cap")
		limit = lowMemoryMax
	}
	return limit
}
