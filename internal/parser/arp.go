package parser

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"netfuse/internal/domain"
)

var (
	// Interface: 10.137.2.16 --- 0x11
	windowsArpHeader = regexp.MustCompile(`^Interface: (.+) ---`)
	//   10.137.2.1            fe-ff-ff-ff-ff-ff     dynamic
	windowsArpRow = regexp.MustCompile(`^  ([\w.]+)\s+((?:[0-9a-fA-F]{2}-){5}[0-9a-fA-F]{2})`)

	// 10.137.1.8  ether  00:16:3e:5e:6c:06  C  vif2.0
	linuxArpRow = regexp.MustCompile(`^([\w.]+)\s+\w+\s+((?:[0-9a-fA-F]{2}:){5}[0-9a-fA-F]{2})\s+\S+\s+(\S+)\s*$`)

	// 10.0.0.1  aa:bb:cc:dd:ee:ff  em0 19m59s
	openbsdArpRow = regexp.MustCompile(`^([\w.]+)\s+((?:[0-9a-fA-F]{2}:){5}[0-9a-fA-F]{2})\s+(\S+)`)
)

// parseWindowsArp reads `arp -a` output. The Interface: banner names the
// local side by its IP; each indented row is one neighbor.
func parseWindowsArp(r io.Reader) ([]domain.RawRecord, error) {
	var records []domain.RawRecord
	var local string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		if m := windowsArpHeader.FindStringSubmatch(line); m != nil {
			local = strings.TrimSpace(m[1])
			continue
		}
		m := windowsArpRow.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if local == "" {
			return nil, fmt.Errorf("arp row before Interface banner: %q", line)
		}
		records = append(records, domain.RawRecord{
			Kind:           domain.RecordKindArp,
			LocalInterface: local,
			NeighborIP:     m[1],
			NeighborMAC:    m[2],
			Line:           line,
		})
	}
	return records, scanner.Err()
}

// parseLinuxArp reads `arp -n` output. The Iface column names the local side.
func parseLinuxArp(r io.Reader) ([]domain.RawRecord, error) {
	return parseArpRows(r, linuxArpRow)
}

// parseOpenBSDArp reads `arp -an` output, Netif column naming the local side.
func parseOpenBSDArp(r io.Reader) ([]domain.RawRecord, error) {
	return parseArpRows(r, openbsdArpRow)
}

func parseArpRows(r io.Reader, row *regexp.Regexp) ([]domain.RawRecord, error) {
	var records []domain.RawRecord

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		m := row.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		records = append(records, domain.RawRecord{
			Kind:           domain.RecordKindArp,
			LocalInterface: m[3],
			NeighborIP:     m[1],
			NeighborMAC:    m[2],
			Line:           line,
		})
	}
	return records, scanner.Err()
}

// parseProcfsArp reads /proc/net/arp. Incomplete entries carry a zero MAC and
// are skipped.
func parseProcfsArp(r io.Reader) ([]domain.RawRecord, error) {
	var records []domain.RawRecord

	scanner := bufio.NewScanner(r)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			first = false
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		ip, mac, device := fields[0], fields[3], fields[5]
		if mac == "00:00:00:00:00:00" {
			continue
		}
		records = append(records, domain.RawRecord{
			Kind:           domain.RecordKindArp,
			LocalInterface: device,
			NeighborIP:     ip,
			NeighborMAC:    mac,
			Line:           line,
		})
	}
	return records, scanner.Err()
}
