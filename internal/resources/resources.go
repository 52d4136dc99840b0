package resources

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
)

// Load reads a resource list file
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open resource list: %w", err)
	}
	defer f.Close()

	list, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return list, nil
}

// Parse returns one request path per non-blank line. Lines starting with #
// are comments. Every path must be absolute, as in a request line.
func Parse(r io.Reader) ([]string, error) {
	var list []string
	scanner := bufio.NewScanner(r)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := validate(line); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		list = append(list, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func validate(path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("resource %q must start with /", path)
	}
	if _, err := url.ParseRequestURI(path); err != nil {
		return fmt.Errorf("invalid resource %q: %w", path, err)
	}
	return nil
}
