package rpc

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Machine is one line of the ip config file: a physical host running
// NumServers logical servers on consecutive ports starting at Port.
type Machine struct {
	Host       string
	Port       int
	NumServers int
}

// IPConfig is the parsed cluster layout. Logical server ids are assigned
// machine by machine in file order: machine 0 owns ids [0, n0), machine 1
// owns [n0, n0+n1), and so on.
type IPConfig struct {
	Machines []Machine
}

// LoadIPConfig parses the ip config file: one machine per line, either
// "<host>:<port> <num_servers>" or "<host> <port> <num_servers>".
func LoadIPConfig(path string) (*IPConfig, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rpc: cannot read ip config %s: %w", path, err)
	}
	return ParseIPConfig(string(contents))
}

// ParseIPConfig parses ip config file contents.
func ParseIPConfig(contents string) (*IPConfig, error) {
	cfg := &IPConfig{}
	for _, line := range strings.Split(strings.ReplaceAll(contents, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		var host, portStr, countStr string
		switch len(fields) {
		case 2:
			var err error
			host, portStr, err = net.SplitHostPort(fields[0])
			if err != nil {
				return nil, fmt.Errorf("rpc: malformed ip config line %q: %w", line, err)
			}
			countStr = fields[1]
		case 3:
			host, portStr, countStr = fields[0], fields[1], fields[2]
		default:
			return nil, fmt.Errorf("rpc: malformed ip config line %q", line)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("rpc: malformed port in %q: %w", line, err)
		}
		count, err := strconv.Atoi(countStr)
		if err != nil || count < 1 {
			return nil, fmt.Errorf("rpc: malformed server count in %q", line)
		}
		cfg.Machines = append(cfg.Machines, Machine{Host: host, Port: port, NumServers: count})
	}
	if len(cfg.Machines) == 0 {
		return nil, fmt.Errorf("rpc: empty ip config")
	}
	return cfg, nil
}

// NumMachines returns the machine count.
func (c *IPConfig) NumMachines() int { return len(c.Machines) }

// NumServers returns the total logical server count.
func (c *IPConfig) NumServers() int {
	n := 0
	for _, m := range c.Machines {
		n += m.NumServers
	}
	return n
}

// ServerAddr returns the listen address of a logical server id. Servers on
// one machine use consecutive ports starting at the machine's base port.
func (c *IPConfig) ServerAddr(serverID int) (string, error) {
	id := serverID
	for _, m := range c.Machines {
		if id < m.NumServers {
			return net.JoinHostPort(m.Host, strconv.Itoa(m.Port+id)), nil
		}
		id -= m.NumServers
	}
	return "", fmt.Errorf("rpc: server id %d out of range [0, %d)", serverID, c.NumServers())
}

// MachineOfServer returns the machine rank hosting a logical server id.
func (c *IPConfig) MachineOfServer(serverID int) (int, error) {
	id := serverID
	for rank, m := range c.Machines {
		if id < m.NumServers {
			return rank, nil
		}
		id -= m.NumServers
	}
	return 0, fmt.Errorf("rpc: server id %d out of range [0, %d)", serverID, c.NumServers())
}

// FirstServerOfMachine returns the logical id of the first server on a
// machine rank; machine-level routing targets it.
func (c *IPConfig) FirstServerOfMachine(rank int) (int, error) {
	if rank < 0 || rank >= len(c.Machines) {
		return 0, fmt.Errorf("rpc: machine rank %d out of range [0, %d)", rank, len(c.Machines))
	}
	id := 0
	for i := 0; i < rank; i++ {
		id += c.Machines[i].NumServers
	}
	return id, nil
}
