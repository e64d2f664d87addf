package msg

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Pxeboot address discovery. Controllers carry a static address in the
// interface file; every other node learns its pxeboot address from DHCP
// lease state. Both lookups are best-effort and may return empty.

const (
	dhcpLeaseDir      = "/var/lib/dhcp"
	staticIfaceFmtDir = "/etc/network/interfaces.d"
)

// PxebootAddrController reads the static pxeboot address for iface from the
// interface file. Returns empty when absent.
func PxebootAddrController(iface string) string {
	path := filepath.Join(staticIfaceFmtDir, "ifcfg-"+iface)
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// both "address 1.2.3.4" and "IPADDR=1.2.3.4" styles appear
		if v, ok := strings.CutPrefix(line, "address "); ok {
			return strings.TrimSpace(v)
		}
		if v, ok := strings.CutPrefix(line, "IPADDR="); ok {
			return strings.Trim(strings.TrimSpace(v), `"`)
		}
	}
	return ""
}

// PxebootAddrWorker scans the DHCP lease files for iface and returns the
// most recent fixed-address. Returns empty when no lease exists.
func PxebootAddrWorker(iface string) string {
	matches, err := filepath.Glob(filepath.Join(dhcpLeaseDir, "dhclient*"+iface+"*.lease*"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	var addr string
	for _, path := range matches {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if v, ok := strings.CutPrefix(line, "fixed-address "); ok {
				addr = strings.TrimSuffix(strings.TrimSpace(v), ";")
			}
		}
		f.Close()
	}
	return addr
}
