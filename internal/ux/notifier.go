package ux

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Notifier displays informational, warning and error messages.
type Notifier interface {
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

var (
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// Terminal writes styled one-line messages to w.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTerminal returns a Terminal writing to w.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

func (t *Terminal) Info(msg string)  { t.print(infoStyle.Render("info"), msg) }
func (t *Terminal) Warn(msg string)  { t.print(warnStyle.Render("warn"), msg) }
func (t *Terminal) Error(msg string) { t.print(errorStyle.Render("error"), msg) }

func (t *Terminal) print(prefix, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "%s %s\n", prefix, msg)
}

// Message is one recorded notification.
type Message struct {
	Level string
	Text  string
}

// Recorder keeps notifications in memory.
type Recorder struct {
	mu       sync.Mutex
	Messages []Message
}

func (r *Recorder) Info(msg string)  { r.add("info", msg) }
func (r *Recorder) Warn(msg string)  { r.add("warn", msg) }
func (r *Recorder) Error(msg string) { r.add("error", msg) }

func (r *Recorder) add(level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, Message{Level: level, Text: msg})
}

// Levels returns the level of each recorded message in order.
func (r *Recorder) Levels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Messages))
	for i, m := range r.Messages {
		out[i] = m.Level
	}
	return out
}
