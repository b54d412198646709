package routing

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
)

// LoadFile reads a routing table from a plain-text file: one route per
// line, whitespace-separated "network gateway interface", e.g.
//
//	10.0.1.0/24   -              eth1
//	0.0.0.0/0     172.16.0.254   eth2
//
// A gateway of "-" marks a directly-connected network. Blank lines and
// lines starting with "#" are ignored.
func LoadFile(path string) ([]Route, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("routing: opening route file %s: %w", path, err)
	}
	defer f.Close()

	routes, err := parseRoutes(f)
	if err != nil {
		return nil, fmt.Errorf("routing: %s: %w", path, err)
	}
	return routes, nil
}

func parseRoutes(r io.Reader) ([]Route, error) {
	var routes []Route
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: want 3 fields (network gateway interface), got %d", lineNo, len(fields))
		}

		_, network, err := net.ParseCIDR(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid network %q: %w", lineNo, fields[0], err)
		}

		var gateway net.IP
		if fields[1] != "-" {
			gateway = net.ParseIP(fields[1])
			if gateway == nil {
				return nil, fmt.Errorf("line %d: invalid gateway %q", lineNo, fields[1])
			}
		}

		iface := fields[2]
		if iface == "" {
			return nil, fmt.Errorf("line %d: empty interface", lineNo)
		}

		routes = append(routes, Route{Network: network, Gateway: gateway, Interface: iface})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning: %w", err)
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("no routes defined")
	}
	return routes, nil
}
