package specieslist

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/timmy/floraset/internal/domain"
)

// Load reads a newline-delimited species list.
// Blank lines and lines starting with '#' are skipped, names are
// whitespace-trimmed, and duplicates are dropped (first occurrence wins).
// Parameters:
//   - path: path to the UTF-8 species list file.
// Returns:
//   - []string: ordered scientific names.
//   - error: ConfigError if the file is missing, unreadable, empty, or
//     contains a name unusable as a directory component.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.NewConfigError(fmt.Sprintf("species list %q", path), err)
	}
	defer f.Close()

	var names []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		name := strings.TrimSpace(scanner.Text())
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		if err := validateName(name); err != nil {
			return nil, domain.NewConfigError(fmt.Sprintf("species list %q line %d", path, lineNo), err)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	if err := scanner.Err(); err != nil {
		return nil, domain.NewConfigError(fmt.Sprintf("species list %q", path), err)
	}

	if len(names) == 0 {
		return nil, domain.NewConfigError(fmt.Sprintf("species list %q contains no species names", path), nil)
	}

	return names, nil
}

// validateName rejects names that cannot serve as a single path component.
func validateName(name string) error {
	if strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("name %q contains a path separator or NUL", name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("name %q is not a valid directory name", name)
	}
	return nil
}
