package kconfig

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Values holds resolved CONFIG_* symbols from a Kconfig .config file.
// Boolean symbols are stored as "y"; symbols marked "is not set" are
// stored as "n". Everything else keeps its string form after environment
// variable expansion.
type Values map[string]string

var (
	// setLineRE matches lines like CONFIG_SYMBOL=value.
	setLineRE = regexp.MustCompile(`^(CONFIG_[A-Z0-9_]+)=(.*)$`)
	// unsetLineRE matches comment lines like "# CONFIG_SYMBOL is not set".
	unsetLineRE = regexp.MustCompile(`^#\s*(CONFIG_[A-Z0-9_]+)\s+is\s+not\s+set$`)
)

// Parse reads a Kconfig .config file and returns its resolved symbols.
func Parse(path string) (Values, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	values := make(Values)
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if match := unsetLineRE.FindStringSubmatch(line); match != nil {
			values[match[1]] = "n"
			continue
		}

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		match := setLineRE.FindStringSubmatch(line)
		if match == nil {
			continue
		}

		symbol, raw := match[1], match[2]

		// Kconfig quotes string values.
		if strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`) && len(raw) >= 2 {
			raw = raw[1 : len(raw)-1]
		}

		values[symbol] = os.ExpandEnv(raw)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return values, nil
}

// Bool reports whether the symbol is set to y.
func (v Values) Bool(symbol string) bool {
	return v[symbol] == "y"
}

// String returns the symbol's string value and whether it is present
// and set to something other than "n".
func (v Values) String(symbol string) (string, bool) {
	value, ok := v[symbol]
	if !ok || value == "n" {
		return "", false
	}

	return value, true
}

// Int parses the symbol's value as a decimal or 0x-prefixed hexadecimal number.
func (v Values) Int(symbol string) (int64, error) {
	value, ok := v.String(symbol)
	if !ok {
		return 0, fmt.Errorf("symbol %s is not set", symbol)
	}

	return ParseInt(value)
}

// ParseInt converts a string to an integer, supporting decimal and
// hexadecimal with the 0x prefix.
func ParseInt(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	if numeric, found := strings.CutPrefix(s, "0x"); found {
		value, err := strconv.ParseInt(numeric, 16, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid hexadecimal number %q: %w", s, err)
		}

		return value, nil
	}

	value, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}

	return value, nil
}
