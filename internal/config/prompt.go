package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"image-optimizer-go/internal/codec"
)

const (
	directoryQuestion = "Enter the path to the directory with images: "
	formatQuestion    = "Enter desired format (jpg, png, gif) or press enter to keep original: "

	maxFormatTries = 3
)

// Prompter asks the user for missing configuration values, one line each.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPrompter returns a Prompter reading answers from in and writing
// questions to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// Ask writes question and returns the trimmed answer line. A final line
// without a newline is accepted; EOF before any input is an error.
func (p *Prompter) Ask(question string) (string, error) {
	fmt.Fprint(p.out, question)
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Complete prompts for the values a run needs but the configuration does not
// provide: the image directory, then the desired format. The directory is
// resolved to an absolute path; an empty answer means the working directory.
func (c *Config) Complete(p *Prompter) error {
	if c.Directory == "" {
		dir, err := p.Ask(directoryQuestion)
		if err != nil {
			return err
		}
		if dir == "" {
			dir = "."
		}
		c.Directory = dir
	}
	if err := c.ResolveDirectory(); err != nil {
		return err
	}

	if c.formatSet {
		return nil
	}
	for try := 0; try < maxFormatTries; try++ {
		answer, err := p.Ask(formatQuestion)
		if err != nil {
			return err
		}
		if _, err := codec.ParseTarget(answer); err != nil {
			fmt.Fprintf(p.out, "%v\n", err)
			continue
		}
		c.SetFormat(answer)
		return nil
	}
	return fmt.Errorf("no valid format after %d tries", maxFormatTries)
}
