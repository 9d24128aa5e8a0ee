package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/paprika-agent/paprika/pkg/cli"
	"github.com/paprika-agent/paprika/pkg/protocol"
)

// Operator asks a person at a terminal for curriculum tasks and critic
// verdicts. Invalid answers are asked again. An Operator serializes its
// questions, so sessions sharing one take turns.
type Operator struct {
	mu     sync.Mutex
	in     *bufio.Reader
	out    io.Writer
	styles cli.Styles
}

// NewOperator reads answers from in and writes questions to out.
func NewOperator(in io.Reader, out io.Writer) *Operator {
	return &Operator{
		in:     bufio.NewReader(in),
		out:    out,
		styles: cli.NewStyles(cli.DefaultTheme),
	}
}

// Task asks for the next task.
func (o *Operator) Task(ctx context.Context) (protocol.CurriculumOutput, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	fmt.Fprintln(o.out, o.styles.Title.Render("MANUAL TASK INPUT"))
	var out protocol.CurriculumOutput
	var err error
	if out.Task, err = o.ask(ctx, "Task", nonEmpty); err != nil {
		return out, err
	}
	if out.Reasoning, err = o.ask(ctx, "Reasoning", anything); err != nil {
		return out, err
	}
	d, err := o.ask(ctx, "Difficulty", integer)
	if err != nil {
		return out, err
	}
	out.Difficulty, _ = strconv.Atoi(d)
	return out, nil
}

// Verdict shows the critic context and asks for a verdict.
func (o *Operator) Verdict(ctx context.Context, summary string) (protocol.CriticOutput, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	fmt.Fprintln(o.out, o.styles.Title.Render("MANUAL CRITIC"))
	fmt.Fprintln(o.out, o.styles.Help.Render(summary))
	var out protocol.CriticOutput
	yn, err := o.ask(ctx, "Success? (y/n)", yesNo)
	if err != nil {
		return out, err
	}
	out.Success = strings.EqualFold(yn, "y")
	if out.Reasoning, err = o.ask(ctx, "Reasoning", anything); err != nil {
		return out, err
	}
	if out.Feedback, err = o.ask(ctx, "Feedback", anything); err != nil {
		return out, err
	}
	return out, nil
}

func anything(string) bool { return true }
func nonEmpty(s string) bool { return s != "" }

func integer(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

func yesNo(s string) bool {
	s = strings.ToLower(s)
	return s == "y" || s == "n"
}

// ask prompts until valid accepts the answer. Reading blocks; ctx is
// checked between prompts.
func (o *Operator) ask(ctx context.Context, label string, valid func(string) bool) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		fmt.Fprint(o.out, o.styles.Label.Render(label+": "))
		line, err := o.in.ReadString('\n')
		line = strings.TrimSpace(line)
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			if errors.Is(err, io.EOF) {
				return "", fmt.Errorf("agent: operator input closed: %w", io.ErrUnexpectedEOF)
			}
			return "", fmt.Errorf("agent: read operator input: %w", err)
		}
		if valid(line) {
			return line, nil
		}
		if err != nil {
			return "", fmt.Errorf("agent: operator input closed: %w", io.ErrUnexpectedEOF)
		}
		fmt.Fprintln(o.out, o.styles.Help.Render("invalid answer, try again"))
	}
}
