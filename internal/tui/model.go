// Package tui renders the probe monitor: one row per capture target showing
// its location, latest value, and history depth. The view redraws only when
// the redraw throttler says targets are dirty, so render cost is bounded by
// the refresh cadence no matter how fast the producer captures.
package tui

import (
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/probescope/probescope/internal/consumer"
	"github.com/probescope/probescope/internal/notify"
	"github.com/probescope/probescope/internal/store"
	"github.com/probescope/probescope/internal/target"
)

const maxValueWidth = 48

// dirtyMsg carries a throttler notification into the bubbletea loop.
type dirtyMsg notify.DirtyBatch

// streamDoneMsg reports the end of the producer's stream.
type streamDoneMsg consumer.StreamResult

// row is the displayed state of one target.
type row struct {
	target   target.Target
	value    string
	count    int
	deferred bool
}

// Model is the bubbletea model for the probe monitor.
type Model struct {
	c      *consumer.Consumer
	events chan tea.Msg
	subID  uint64

	rows   map[target.Target]*row
	order  []target.Target
	result *consumer.StreamResult
	ticks  uint64
	width  int
}

// NewModel creates the monitor model and subscribes it to the consumer's
// dirty-batch notifications.
func NewModel(c *consumer.Consumer) *Model {
	m := &Model{
		c:      c,
		events: make(chan tea.Msg, 64),
		rows:   make(map[target.Target]*row),
	}

	m.subID = c.Subscribe(func(b notify.DirtyBatch) {
		m.events <- dirtyMsg(b)
	})

	go func() {
		res := <-c.Result()
		m.events <- streamDoneMsg(res)
	}()

	return m
}

// Init starts listening for pipeline events.
func (m *Model) Init() tea.Cmd {
	return m.listen()
}

func (m *Model) listen() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

// Update handles pipeline notifications and key input.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case dirtyMsg:
		m.ticks++
		for _, t := range msg.Targets {
			m.refresh(t)
		}
		return m, m.listen()

	case streamDoneMsg:
		res := consumer.StreamResult(msg)
		m.result = &res
		// Keep listening: the throttler's final flush may still arrive.
		return m, m.listen()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.c.Unsubscribe(m.subID)
			return m, tea.Quit
		}
	}
	return m, nil
}

// refresh re-reads one target's history and updates its row.
func (m *Model) refresh(t target.Target) {
	entries, ok := m.c.GetHistory(t)
	if !ok || len(entries) == 0 {
		return
	}
	last := entries[len(entries)-1]

	r, seen := m.rows[t]
	if !seen {
		r = &row{target: t}
		m.rows[t] = r
		m.order = append(m.order, t)
		sort.Slice(m.order, func(i, j int) bool { return lessTarget(m.order[i], m.order[j]) })
	}
	r.value = formatEntry(last)
	r.count = len(entries)
	r.deferred = last.Deferred
}

// View renders the monitor table.
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("probescope"))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(locationStyle.Render("  waiting for captures..."))
		b.WriteString("\n")
	} else {
		b.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n",
			headerStyle.Render(pad("location", 24)),
			headerStyle.Render(pad("symbol", 10)),
			headerStyle.Render(pad("latest", maxValueWidth)),
			headerStyle.Render("records")))

		for _, t := range m.order {
			r := m.rows[t]
			loc := fmt.Sprintf("%s:%d:%d", t.Loc.File, t.Loc.Line, t.Loc.Col)

			style := valueStyle
			if r.deferred {
				style = deferredStyle
			}
			b.WriteString(fmt.Sprintf("  %s  %s  %s  %d\n",
				locationStyle.Render(pad(loc, 24)),
				symbolStyle.Render(pad(t.Symbol, 10)),
				style.Render(pad(r.value, maxValueWidth)),
				r.count))
		}
	}

	b.WriteString("\n")
	switch {
	case m.result == nil:
		b.WriteString(footerStyle.Render(fmt.Sprintf("streaming · %d refreshes · q to quit", m.ticks)))
	case m.result.Fault != nil:
		b.WriteString(faultStyle.Render("producer fault: " + m.result.Fault.Message))
		b.WriteString(footerStyle.Render(" · q to quit"))
	case m.result.Abnormal:
		b.WriteString(faultStyle.Render("producer terminated without end-of-stream"))
		b.WriteString(footerStyle.Render(" · q to quit"))
	default:
		b.WriteString(footerStyle.Render(fmt.Sprintf("stream ended (exit %d) · q to quit", m.result.ExitCode)))
	}
	b.WriteString("\n")
	return b.String()
}

func formatEntry(e store.Entry) string {
	var s string
	switch {
	case e.Kind == target.KindUnserializable:
		s = target.Placeholder
	case len(e.Shape) > 0:
		s = fmt.Sprintf("%s shape=%v", e.Kind, e.Shape)
	default:
		s = fmt.Sprintf("%v", e.Value)
	}
	if r := []rune(s); len(r) > maxValueWidth {
		s = string(r[:maxValueWidth-1]) + "…"
	}
	return s
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func lessTarget(a, b target.Target) bool {
	if a.Loc.File != b.Loc.File {
		return a.Loc.File < b.Loc.File
	}
	if a.Loc.Line != b.Loc.Line {
		return a.Loc.Line < b.Loc.Line
	}
	if a.Loc.Col != b.Loc.Col {
		return a.Loc.Col < b.Loc.Col
	}
	return a.Symbol < b.Symbol
}
