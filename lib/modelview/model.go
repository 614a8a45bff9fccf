// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package modelview

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"github.com/bureau-foundation/modelsync/model"
	"github.com/bureau-foundation/modelsync/protocol"
)

// Source is the mirrored model the browser reads. Reads of rows that
// are not cached yet return zero values and fetch them; the source
// then signals the Changes channel given in Options.
type Source interface {
	RowCount(path protocol.ModelIndex) int
	ColumnCount(path protocol.ModelIndex) int
	Data(path protocol.ModelIndex, role model.Role) any
	HeaderData(section int, orientation model.Orientation, role model.Role) any
}

// Selector is the selection mirror of the browsed model.
type Selector interface {
	IsSelected(path protocol.ModelIndex) bool
	SetCurrentIndex(path protocol.ModelIndex, flags model.SelectionFlags) error
}

// Options configure a Model. Zero values select the defaults.
type Options struct {
	// Title is shown above the rows, usually the model name.
	Title string

	// Changes is signalled whenever the source's content changed. A
	// nil channel makes the view static.
	Changes <-chan struct{}

	// Selector, when set, receives the rows picked with the Select
	// key and colors selected rows.
	Selector Selector

	Theme *Theme
	Keys  *KeyMap
}

// changedMsg reports a source change.
type changedMsg struct{}

// row is one visible line: a cell path in column 0 and its depth.
type row struct {
	path        protocol.ModelIndex
	depth       int
	hasChildren bool
}

// Model is the bubbletea model of the browser.
type Model struct {
	source   Source
	selector Selector
	changes  <-chan struct{}
	title    string
	keys     KeyMap
	styles   styles
	help     help.Model

	// expanded holds the paths of open nodes, keyed by
	// ModelIndex.String.
	expanded map[string]bool
	rows     []row
	cursor   int
	offset   int

	width  int
	height int

	status         string
	statusLevel    slog.Level
	statusSequence int
}

// New returns a browser over source with every node collapsed.
func New(source Source, options Options) Model {
	theme := DefaultTheme
	if options.Theme != nil {
		theme = *options.Theme
	}
	keys := DefaultKeyMap
	if options.Keys != nil {
		keys = *options.Keys
	}
	view := Model{
		source:   source,
		selector: options.Selector,
		changes:  options.Changes,
		title:    options.Title,
		keys:     keys,
		styles:   newStyles(theme),
		help:     help.New(),
		expanded: make(map[string]bool),
	}
	view.refresh()
	return view
}

// Init implements tea.Model.
func (view Model) Init() tea.Cmd {
	return listenForChange(view.changes)
}

// listenForChange waits for the next source notification.
func listenForChange(changes <-chan struct{}) tea.Cmd {
	if changes == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return changedMsg{}
	}
}

// Update implements tea.Model.
func (view Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		return view.handleKey(message)

	case tea.WindowSizeMsg:
		view.width = message.Width
		view.height = message.Height
		view.help.Width = message.Width
		view.scrollToCursor()
		return view, nil

	case changedMsg:
		view.refresh()
		return view, listenForChange(view.changes)

	case logRecordMsg:
		view.statusSequence++
		view.status = message.Summary
		view.statusLevel = message.Level
		sequence := view.statusSequence
		return view, tea.Tick(logRecordFadeDelay, func(time.Time) tea.Msg {
			return logRecordFadeMsg{sequence: sequence}
		})

	case logRecordFadeMsg:
		if message.sequence == view.statusSequence {
			view.status = ""
		}
		return view, nil
	}
	return view, nil
}

func (view Model) handleKey(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, view.keys.Quit):
		return view, tea.Quit
	case key.Matches(message, view.keys.Up):
		view.moveCursor(-1)
	case key.Matches(message, view.keys.Down):
		view.moveCursor(1)
	case key.Matches(message, view.keys.PageUp):
		view.moveCursor(-view.pageSize())
	case key.Matches(message, view.keys.PageDown):
		view.moveCursor(view.pageSize())
	case key.Matches(message, view.keys.Home):
		view.moveCursor(-len(view.rows))
	case key.Matches(message, view.keys.End):
		view.moveCursor(len(view.rows))
	case key.Matches(message, view.keys.Right):
		view.expandCursor()
	case key.Matches(message, view.keys.Left):
		view.collapseCursor()
	case key.Matches(message, view.keys.Select):
		view.selectCursor()
	}
	return view, nil
}

// Cursor returns the path under the cursor, or the root when the
// model is empty.
func (view Model) Cursor() protocol.ModelIndex {
	if view.cursor >= len(view.rows) {
		return protocol.RootIndex
	}
	return view.rows[view.cursor].path
}

func (view *Model) moveCursor(delta int) {
	if len(view.rows) == 0 {
		return
	}
	view.cursor = min(max(view.cursor+delta, 0), len(view.rows)-1)
	view.scrollToCursor()
}

func (view *Model) expandCursor() {
	if view.cursor >= len(view.rows) {
		return
	}
	current := view.rows[view.cursor]
	if !current.hasChildren {
		return
	}
	name := current.path.String()
	if view.expanded[name] {
		view.moveCursor(1)
		return
	}
	view.expanded[name] = true
	view.refresh()
}

func (view *Model) collapseCursor() {
	if view.cursor >= len(view.rows) {
		return
	}
	current := view.rows[view.cursor]
	name := current.path.String()
	if view.expanded[name] {
		delete(view.expanded, name)
		view.refresh()
		return
	}
	parent := current.path.Parent()
	if parent.IsRoot() {
		return
	}
	for index := view.cursor - 1; index >= 0; index-- {
		if view.rows[index].path.Equal(parent) {
			view.cursor = index
			view.scrollToCursor()
			return
		}
	}
}

func (view *Model) selectCursor() {
	if view.selector == nil || view.cursor >= len(view.rows) {
		return
	}
	path := view.rows[view.cursor].path
	flags := model.ClearAndSelect | model.Rows | model.Current
	if err := view.selector.SetCurrentIndex(path, flags); err != nil {
		view.status = fmt.Sprintf("select %s: %v", path, err)
		view.statusLevel = slog.LevelError
		view.statusSequence++
	}
}

// refresh rebuilds the visible rows from the source and keeps the
// cursor on the same path when it is still visible.
func (view *Model) refresh() {
	var previous protocol.ModelIndex
	if view.cursor < len(view.rows) {
		previous = view.rows[view.cursor].path
	}
	view.rows = nil
	view.appendRows(protocol.RootIndex, 0)

	view.cursor = min(view.cursor, max(len(view.rows)-1, 0))
	if previous != nil {
		for index, candidate := range view.rows {
			if candidate.path.Equal(previous) {
				view.cursor = index
				break
			}
		}
	}
	view.scrollToCursor()
}

func (view *Model) appendRows(parent protocol.ModelIndex, depth int) {
	count := view.source.RowCount(parent)
	for index := range count {
		path := parent.Child(int32(index), 0)
		hasChildren := view.source.RowCount(path) > 0
		view.rows = append(view.rows, row{path: path, depth: depth, hasChildren: hasChildren})
		if hasChildren && view.expanded[path.String()] {
			view.appendRows(path, depth+1)
		}
	}
}

// visibleHeight is the number of row lines: the window minus the
// title and the status bar. Before the first WindowSizeMsg every row
// is shown.
func (view Model) visibleHeight() int {
	if view.height <= 0 {
		return len(view.rows)
	}
	return max(view.height-2, 1)
}

func (view Model) pageSize() int {
	return max(view.visibleHeight()-1, 1)
}

func (view *Model) scrollToCursor() {
	height := view.visibleHeight()
	if view.cursor < view.offset {
		view.offset = view.cursor
	}
	if height > 0 && view.cursor >= view.offset+height {
		view.offset = view.cursor - height + 1
	}
	view.offset = max(min(view.offset, len(view.rows)-height), 0)
}

// View implements tea.Model.
func (view Model) View() string {
	var builder strings.Builder
	builder.WriteString(view.truncate(view.styles.title.Render(view.titleLine())))
	builder.WriteByte('\n')

	end := min(view.offset+view.visibleHeight(), len(view.rows))
	for index := view.offset; index < end; index++ {
		builder.WriteString(view.renderRow(index))
		builder.WriteByte('\n')
	}
	if len(view.rows) == 0 {
		builder.WriteString(view.styles.marker.Render("  (empty)"))
		builder.WriteByte('\n')
	}
	builder.WriteString(view.statusLine())
	return builder.String()
}

func (view Model) titleLine() string {
	columns := view.source.ColumnCount(protocol.RootIndex)
	headers := make([]string, 0, columns)
	for section := range columns {
		headers = append(headers, FormatValue(view.source.HeaderData(section, model.Horizontal, model.DisplayRole)))
	}
	title := view.title
	if len(headers) > 0 {
		title += "  " + strings.Join(headers, " | ")
	}
	return fmt.Sprintf("%s  (%d rows)", title, len(view.rows))
}

func (view Model) renderRow(index int) string {
	current := view.rows[index]
	marker := "  "
	if current.hasChildren {
		marker = "▸ "
		if view.expanded[current.path.String()] {
			marker = "▾ "
		}
	}

	columns := view.source.ColumnCount(current.path.Parent())
	var builder strings.Builder
	builder.WriteString(strings.Repeat("  ", current.depth))
	builder.WriteString(view.styles.marker.Render(marker))

	label := FormatValue(view.source.Data(current.path, model.DisplayRole))
	selected := view.selector != nil && view.selector.IsSelected(current.path)
	if selected {
		builder.WriteString(view.styles.selected.Render(label))
	} else {
		builder.WriteString(view.styles.row.Render(label))
	}
	for column := 1; column < columns; column++ {
		value := view.source.Data(current.path.Sibling(current.path.Row(), int32(column)), model.DisplayRole)
		if value == nil {
			continue
		}
		builder.WriteString("  ")
		builder.WriteString(view.styles.value.Render(FormatValue(value)))
	}

	line := view.truncate(builder.String())
	if index == view.cursor {
		return view.styles.cursor.Render(ansi.Strip(line))
	}
	return line
}

func (view Model) statusLine() string {
	if view.status == "" {
		return view.truncate(view.styles.help.Render(view.help.ShortHelpView(view.keys.ShortHelp())))
	}
	style := view.styles.help
	switch {
	case view.statusLevel >= slog.LevelError:
		style = view.styles.err
	case view.statusLevel >= slog.LevelWarn:
		style = view.styles.warn
	}
	return view.truncate(style.Render(view.status))
}

// truncate cuts a styled line to the window width.
func (view Model) truncate(line string) string {
	if view.width <= 0 {
		return line
	}
	return ansi.Truncate(line, view.width, "…")
}

// FormatValue formats a cell value for the terminal.
func FormatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(v))
	default:
		return fmt.Sprint(v)
	}
}
