// Package ui writes user-facing output: status lines, build steps, a
// spinner while waiting and confirmation prompts.
package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/mattn/go-isatty"
)

// Output is the console collaborator shared by commands.
type Output struct {
	out         io.Writer
	err         io.Writer
	interactive bool

	success *color.Color
	warn    *color.Color
	failure *color.Color
	step    *color.Color
	bold    *color.Color

	spin *spinner.Spinner
}

// New returns an Output writing to out and errOut. Colors and the spinner
// are enabled only when out is a terminal.
func New(out, errOut io.Writer) *Output {
	o := &Output{
		out:     out,
		err:     errOut,
		success: color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		failure: color.New(color.FgRed),
		step:    color.New(color.FgCyan),
		bold:    color.New(color.Bold),
	}
	o.SetInteractive(IsTerminal(out))
	return o
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetInteractive toggles colors and the spinner.
func (o *Output) SetInteractive(interactive bool) {
	o.interactive = interactive
	for _, c := range []*color.Color{o.success, o.warn, o.failure, o.step, o.bold} {
		if interactive && !color.NoColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
}

// Writer returns the standard output writer.
func (o *Output) Writer() io.Writer {
	return o.out
}

func (o *Output) Info(format string, args ...any) {
	fmt.Fprintf(o.out, format+"\n", args...)
}

func (o *Output) Success(format string, args ...any) {
	o.success.Fprintf(o.out, format+"\n", args...)
}

func (o *Output) Warn(format string, args ...any) {
	o.warn.Fprintf(o.err, format+"\n", args...)
}

// Error prints an error message on the error writer.
func (o *Output) Error(err error) {
	o.failure.Fprintf(o.err, "Error: %v\n", err)
}

// Step prints a build step line.
func (o *Output) Step(description string) {
	fmt.Fprintf(o.out, "  %s %s\n", o.step.Sprint(">"), description)
}

// Heading prints a bold line.
func (o *Output) Heading(format string, args ...any) {
	o.bold.Fprintf(o.out, format+"\n", args...)
}

// KeyValues prints "key: value" lines in key order.
func (o *Output) KeyValues(values map[string]string) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(o.out, "%s: %s\n", o.bold.Sprint(k), values[k])
	}
}

// List prints one bulleted line per item.
func (o *Output) List(items []string) {
	for _, item := range items {
		fmt.Fprintf(o.out, "  - %s\n", item)
	}
}

// StartSpinner shows a spinner with message. Without a terminal the message
// is printed once instead.
func (o *Output) StartSpinner(message string) {
	if !o.interactive {
		o.Info("%s...", message)
		return
	}
	if o.spin == nil {
		o.spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(o.out))
	}
	o.spin.Suffix = " " + message
	o.spin.Start()
}

// UpdateSpinner replaces the spinner message.
func (o *Output) UpdateSpinner(message string) {
	if o.spin != nil && o.spin.Active() {
		o.spin.Lock()
		o.spin.Suffix = " " + message
		o.spin.Unlock()
	}
}

// StopSpinner stops the spinner, if any.
func (o *Output) StopSpinner() {
	if o.spin != nil && o.spin.Active() {
		o.spin.Stop()
	}
}

// Confirm asks a yes/no question on the terminal. Without a terminal the
// answer is no.
func (o *Output) Confirm(label string) (bool, error) {
	if !o.interactive {
		return false, nil
	}
	prompt := promptui.Prompt{
		Label:     strings.TrimSuffix(label, "?") + "?",
		IsConfirm: true,
	}
	if _, err := prompt.Run(); err != nil {
		if err == promptui.ErrAbort {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
