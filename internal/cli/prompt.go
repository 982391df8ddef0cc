package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// editUint prompts for a value in [min, max], keeping current on empty or
// invalid input.
func editUint(reader *bufio.Reader, out io.Writer, name string, current, min, max uint64) uint64 {
	fmt.Fprintf(out, "%s (%d-%d) [%d]: ", name, min, max, current)
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return current
	}

	value, err := strconv.ParseUint(input, 10, 64)
	if err != nil {
		fmt.Fprintln(out, "Invalid number, keeping current value.")
		return current
	}

	if value < min || value > max {
		fmt.Fprintf(out, "Value must be between %d and %d, keeping current value.\n", min, max)
		return current
	}

	return value
}

// confirm asks a yes/no question, defaulting to no.
func confirm(reader *bufio.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	input, _ := reader.ReadString('\n')
	input = strings.ToLower(strings.TrimSpace(input))
	return input == "y" || input == "yes"
}
