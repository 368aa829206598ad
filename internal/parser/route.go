package parser

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"

	"netfuse/internal/domain"
)

var (
	// 0.0.0.0  10.137.2.1  0.0.0.0  UG  0  0  0  eth0
	linuxRouteRow = regexp.MustCompile(`^([\d.]+)\s+([\d.*]+)\s+([\d.]+)\s+\S+\s+(\d+)\s+\d+\s+\d+\s+(\S+)\s*$`)

	// 0.0.0.0  0.0.0.0  10.137.2.1  10.137.2.16  10
	windowsRouteRow = regexp.MustCompile(`^\s+([\d.]+)\s+([\d.]+)\s+(\S+)\s+([\d.]+)\s+(\d+)\s*$`)
)

// parseLinuxRoute reads `route -n` output, joining the Destination and
// Genmask columns into one CIDR.
func parseLinuxRoute(r io.Reader) ([]domain.RawRecord, error) {
	var records []domain.RawRecord

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		m := linuxRouteRow.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		dest, err := joinCIDR(m[1], m[3])
		if err != nil {
			return nil, fmt.Errorf("route row %q: %w", line, err)
		}
		metric, _ := strconv.Atoi(m[4])
		records = append(records, domain.RawRecord{
			Kind:         domain.RecordKindRoute,
			Destination:  dest,
			Gateway:      m[2],
			OutInterface: m[5],
			Metric:       metric,
			Line:         line,
		})
	}
	return records, scanner.Err()
}

// parseWindowsRoute reads `route print` output. Only the IPv4 route table
// rows match; the Interface column is the local IP the route leaves from.
// An On-link gateway means the destination needs no next hop.
func parseWindowsRoute(r io.Reader) ([]domain.RawRecord, error) {
	var records []domain.RawRecord

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		m := windowsRouteRow.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		dest, err := joinCIDR(m[1], m[2])
		if err != nil {
			return nil, fmt.Errorf("route row %q: %w", line, err)
		}
		gateway := m[3]
		if strings.EqualFold(gateway, "On-link") {
			gateway = ""
		}
		metric, _ := strconv.Atoi(m[5])
		records = append(records, domain.RawRecord{
			Kind:         domain.RecordKindRoute,
			Destination:  dest,
			Gateway:      gateway,
			OutInterface: m[4],
			Metric:       metric,
			Line:         line,
		})
	}
	return records, scanner.Err()
}

// parseProcfsRoute reads /proc/net/route, where addresses are little-endian
// hex words.
func parseProcfsRoute(r io.Reader) ([]domain.RawRecord, error) {
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
		if len(fields) < 8 {
			continue
		}
		dest, err := hexAddr(fields[1])
		if err != nil {
			return nil, fmt.Errorf("route row %q: %w", line, err)
		}
		gateway, err := hexAddr(fields[2])
		if err != nil {
			return nil, fmt.Errorf("route row %q: %w", line, err)
		}
		mask, err := hexAddr(fields[7])
		if err != nil {
			return nil, fmt.Errorf("route row %q: %w", line, err)
		}
		cidr, err := joinCIDR(dest, mask)
		if err != nil {
			return nil, fmt.Errorf("route row %q: %w", line, err)
		}
		if gateway == "0.0.0.0" {
			gateway = ""
		}
		metric, _ := strconv.Atoi(fields[6])
		records = append(records, domain.RawRecord{
			Kind:         domain.RecordKindRoute,
			Destination:  cidr,
			Gateway:      gateway,
			OutInterface: fields[0],
			Metric:       metric,
			Line:         line,
		})
	}
	return records, scanner.Err()
}

// joinCIDR combines a dotted network and dotted mask into prefix notation.
func joinCIDR(network, mask string) (string, error) {
	ip := net.ParseIP(mask)
	if ip == nil {
		return "", fmt.Errorf("invalid netmask %q", mask)
	}
	v4 := ip.To4()
	if v4 == nil {
		return "", fmt.Errorf("invalid IPv4 netmask %q", mask)
	}
	bits, total := net.IPMask(v4).Size()
	if bits == 0 && total == 0 {
		return "", fmt.Errorf("non-contiguous netmask %q", mask)
	}
	return fmt.Sprintf("%s/%d", network, bits), nil
}

// hexAddr decodes one little-endian hex word from /proc/net/route.
func hexAddr(s string) (string, error) {
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return "", fmt.Errorf("invalid hex address %q", s)
	}
	return fmt.Sprintf("%d.%d.%d.%d", byte(v), byte(v>>8), byte(v>>16), byte(v>>24)), nil
}
