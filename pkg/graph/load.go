package graph

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
)

// LoadEdgeList reads a plain-text edge list ("<src> <dst>" per line, comma or
// tab separated also accepted, '#' and '//' comment lines skipped) and builds
// a graph. Node count is the largest id seen plus one.
func LoadEdgeList(resource string) (*Graph, error) {
	var contents []byte
	var err error
	// Check if it's a network resource or a local one
	if strings.HasPrefix(resource, "http") {
		var resp *http.Response
		resp, err = http.Get(resource)
		if err != nil {
			return nil, fmt.Errorf("could not load network file at %s: %w", resource, err)
		}
		defer resp.Body.Close()
		contents, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("could not load body from request: %w", err)
		}
	} else {
		contents, err = os.ReadFile(resource)
		if err != nil {
			return nil, fmt.Errorf("could not read graph at %s: %w", resource, err)
		}
	}
	return LoadEdgeListFromBytes(contents)
}

// LoadEdgeListFromBytes parses edge-list file contents.
func LoadEdgeListFromBytes(contents []byte) (*Graph, error) {
	var src, dst []int64
	var numNodes int64
	lines := strings.Split(strings.ReplaceAll(string(contents), "\r\n", "\n"), "\n")
	for _, line := range lines {
		from, to, skip, err := convertLine(line)
		if err != nil {
			return nil, err
		}
		// Comment or empty line -> no edge to add
		if skip {
			continue
		}
		src = append(src, from)
		dst = append(dst, to)
		if from >= numNodes {
			numNodes = from + 1
		}
		if to >= numNodes {
			numNodes = to + 1
		}
	}
	return New(numNodes, src, dst)
}

func convertLine(line string) (int64, int64, bool, error) {
	// Skip comment lines
	if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") || strings.TrimSpace(line) == "" {
		return 0, 0, true, nil
	}
	// Normalize separators to a single space
	line = strings.ReplaceAll(line, "\t", " ")
	line = strings.ReplaceAll(line, ",", " ")
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, 0, false, fmt.Errorf("graph: malformed edge line %q", line)
	}
	from, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("graph: malformed edge line %q: %w", line, err)
	}
	to, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("graph: malformed edge line %q: %w", line, err)
	}
	return from, to, false, nil
}
