package player

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// procCPUJiffies returns the cumulative user+system CPU time of a process in
// clock ticks, read from /proc/<pid>/stat. A zero delta between two reads
// means the process did no work in between, which for a decoder means no
// frames were decoded.
func procCPUJiffies(pid int) (uint64, error) {
	raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, err
	}

	// The comm field (2) may contain spaces; fields after the closing
	// paren are fixed-position.
	s := string(raw)
	end := strings.LastIndexByte(s, ')')
	if end < 0 || end+2 > len(s) {
		return 0, fmt.Errorf("malformed stat for pid %d", pid)
	}
	fields := strings.Fields(s[end+2:])
	// fields[11] is utime (field 14), fields[12] is stime (field 15)
	if len(fields) < 13 {
		return 0, fmt.Errorf("short stat for pid %d", pid)
	}

	utime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad utime for pid %d: %w", pid, err)
	}
	stime, err := strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad stime for pid %d: %w", pid, err)
	}

	return utime + stime, nil
}
