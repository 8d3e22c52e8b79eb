package manifest

import (
	"bufio"
	"os"
	"strings"
)

// Parses a system-package list file.
//
// The format is one package name per line. Blank lines and lines starting
// with '#' are ignored. Package names must not contain whitespace.
func ParseSystemPackages(filePath string) ([]string, error) {
	fh, err := os.Open(filePath)
	if err != nil {
		return nil, fileError(filePath, err)
	}
	defer fh.Close()

	var pkgs []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.ContainsAny(line, " \t") {
			return nil, fieldError(filePath, line, "package names must not contain whitespace")
		}
		if seen[line] {
			return nil, fieldError(filePath, line, "duplicate system package")
		}
		seen[line] = true
		pkgs = append(pkgs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fileError(filePath, err)
	}

	return pkgs, nil
}
