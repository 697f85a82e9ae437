// Package menu asks the operator which recipient group to mail.
package menu

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrNoInput is returned when input ends before a valid option is chosen.
var ErrNoInput = errors.New("no option selected: input closed")

// Option is one selectable group and its raw entry count.
type Option struct {
	Name  string
	Count int
}

// Choice is the operator's selection.
type Choice struct {
	// Group is the selected group name; empty when All is set.
	Group string
	All   bool
}

// Picker prints the group menu and reads the operator's answer.
type Picker struct {
	in  *bufio.Reader
	out io.Writer
}

// New creates a Picker reading from in and printing to out.
func New(in io.Reader, out io.Writer) *Picker {
	return &Picker{in: bufio.NewReader(in), out: out}
}

// Pick lists options as 1..N plus a trailing "all" option N+1 and prompts
// until a number in range is entered. Invalid answers re-prompt without
// limit; end of input returns ErrNoInput.
func (p *Picker) Pick(options []Option) (Choice, error) {
	fmt.Fprintln(p.out, "\n=== Select the destination group ===")
	for i, o := range options {
		fmt.Fprintf(p.out, "%d. %s  (%d recipient(s))\n", i+1, o.Name, o.Count)
	}
	allIndex := len(options) + 1
	fmt.Fprintf(p.out, "%d. all  (all groups)\n", allIndex)

	for {
		fmt.Fprint(p.out, "Enter the option number: ")
		line, err := p.in.ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(p.out)
			return Choice{}, ErrNoInput
		}

		idx, ok := parseOption(line)
		switch {
		case ok && idx >= 1 && idx <= len(options):
			return Choice{Group: options[idx-1].Name}, nil
		case ok && idx == allIndex:
			return Choice{All: true}, nil
		}
		fmt.Fprintln(p.out, "Invalid option. Try again.")

		if err != nil {
			return Choice{}, ErrNoInput
		}
	}
}

// parseOption accepts only plain decimal digits after trimming whitespace.
func parseOption(line string) (int, bool) {
	s := strings.TrimSpace(line)
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
