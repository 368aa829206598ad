// Package parser turns text dumps of ARP and routing tables into raw records.
// Each supported (type, os) pair has its own line format; when the caller
// does not know the format, Guess matches characteristic header lines.
//
// Parsers are lenient: lines that do not match the row format are skipped,
// matching rows are emitted as-is in their source spelling. Validation and
// canonicalization happen later, in the normalizer.
package parser

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"

	"netfuse/internal/domain"
)

// Func parses one dump into raw records.
type Func func(r io.Reader) ([]domain.RawRecord, error)

type format struct {
	dumpType string
	os       string
	parse    Func
	// header matches a line that identifies this format. Guess tries every
	// line of the dump against every header until one hits.
	header *regexp.Regexp
}

// The header regexps mirror the table banners each tool prints. More than one
// header may map to the same format.
var formats = []format{
	{"arp", "windows", parseWindowsArp,
		regexp.MustCompile(`^Interface:\s+`)},
	{"arp", "linux", parseLinuxArp,
		regexp.MustCompile(`^Address\s+HWtype\s+HWaddress\s+Flags\s+Mask\s+Iface$`)},
	{"arp", "openbsd", parseOpenBSDArp,
		regexp.MustCompile(`^Host\s+Ethernet\sAddress\s+Netif\sExpire\sFlags$`)},
	{"arp", "procfs", parseProcfsArp,
		regexp.MustCompile(`^IP address\s+HW type\s+Flags\s+HW address\s+Mask\s+Device$`)},
	{"route", "linux", parseLinuxRoute,
		regexp.MustCompile(`^Kernel IP routing table$`)},
	{"route", "linux", parseLinuxRoute,
		regexp.MustCompile(`^Destination\s+Gateway\s+Genmask\s+Flags\sMetric\sRef\s+Use\sIface$`)},
	{"route", "windows", parseWindowsRoute,
		regexp.MustCompile(`^={20,}$`)},
	{"route", "procfs", parseProcfsRoute,
		regexp.MustCompile(`^Iface\s+Destination\s+Gateway`)},
}

// Lookup returns the parser for a known (type, os) pair.
func Lookup(dumpType, os string) (Func, bool) {
	for _, f := range formats {
		if f.dumpType == dumpType && f.os == os {
			return f.parse, true
		}
	}
	return nil, false
}

// Guess scans the dump for a recognizable header line and returns the matched
// (type, os) pair.
func Guess(r io.Reader) (dumpType, os string, err error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		for _, f := range formats {
			if f.header.MatchString(line) {
				return f.dumpType, f.os, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", fmt.Errorf("guess dump format: %w", err)
	}
	return "", "", fmt.Errorf("unrecognized dump format")
}

// SupportedTypes lists the dump types with at least one parser.
func SupportedTypes() []string {
	return uniqueOf(func(f format) string { return f.dumpType })
}

// SupportedOS lists the operating systems with at least one parser.
func SupportedOS() []string {
	return uniqueOf(func(f format) string { return f.os })
}

func uniqueOf(pick func(format) string) []string {
	set := make(map[string]struct{})
	for _, f := range formats {
		set[pick(f)] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
