package node

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// Signal reads the wireless link level from /proc/net/wireless.
type Signal struct {
	fs    procfs.FS
	iface string
}

// NewSignal opens the proc filesystem mounted at procRoot. iface selects
// the wireless interface; empty means the first one listed.
func NewSignal(procRoot, iface string) (*Signal, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", procRoot, err)
	}
	return &Signal{fs: fs, iface: iface}, nil
}

// RSSI returns the link level of the interface in dBm, or 0 when the
// interface is missing or has no wireless statistics.
func (s *Signal) RSSI() int {
	links, err := s.fs.Wireless()
	if err != nil {
		return 0
	}
	for _, l := range links {
		if s.iface != "" && l.Name != s.iface {
			continue
		}
		return l.QualityLevel
	}
	return 0
}
