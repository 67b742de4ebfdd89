package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// prompter reads answers from the command's input, one line each.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(cmd *cobra.Command) *prompter {
	return &prompter{in: bufio.NewReader(cmd.InOrStdin()), out: cmd.OutOrStdout()}
}

// ask prints label and returns the trimmed line. An empty answer is an error.
func (p *prompter) ask(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	line, err := p.in.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		if err != nil && err != io.EOF {
			return "", err
		}
		return "", fmt.Errorf("%s is required", strings.ToLower(label))
	}
	return line, nil
}

// valueOrAsk returns value when set and prompts otherwise.
func (p *prompter) valueOrAsk(value, label string) (string, error) {
	if value != "" {
		return value, nil
	}
	return p.ask(label)
}
