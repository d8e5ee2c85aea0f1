package filePicker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gabriel-vasile/mimetype"

	"github.com/rescp17/peerSplice/internal/style"
	"github.com/rescp17/peerSplice/internal/util"
)

// ErrNoSelection is returned by Pick when the user leaves without choosing a file.
var ErrNoSelection = errors.New("no file selected")

type mode int

const (
	modeBrowse mode = iota
	modeInput
)

// SelectedFileMsg is emitted when the user confirms a regular file.
type SelectedFileMsg struct {
	Path string
}

// --- Key Map ---
type KeyMap struct {
	Up          key.Binding
	Down        key.Binding
	PageUp      key.Binding
	PageDown    key.Binding
	Parent      key.Binding
	ToggleInput key.Binding
	Confirm     key.Binding
	Quit        key.Binding
}

var DefaultKeyMap = KeyMap{
	Up:          key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "move up")),
	Down:        key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "move down")),
	PageUp:      key.NewBinding(key.WithKeys("pgup", "left"), key.WithHelp("←", "page up")),
	PageDown:    key.NewBinding(key.WithKeys("pgdown", "right"), key.WithHelp("→", "page down")),
	Parent:      key.NewBinding(key.WithKeys("backspace", "h"), key.WithHelp("h", "parent dir")),
	ToggleInput: key.NewBinding(key.WithKeys("ctrl+p"), key.WithHelp("ctrl+p", "input path")),
	Confirm:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open/send")),
	Quit:        key.NewBinding(key.WithKeys("esc", "ctrl+c"), key.WithHelp("esc", "quit/back")),
}

// --- Model ---
type Model struct {
	path     string
	items    []fs.DirEntry
	cursor   int
	offset   int
	height   int
	keys     KeyMap
	mode     mode
	input    textinput.Model
	inputErr error
	selected string
	quitting bool
}

// InitialModel starts browsing dir; an empty dir means the working directory.
func InitialModel(dir string) Model {
	ti := textinput.New()
	ti.Placeholder = "path/to/dir"
	ti.CharLimit = 256
	ti.Width = 80

	m := Model{
		keys:  DefaultKeyMap,
		mode:  modeBrowse,
		input: ti,
	}
	if dir == "" {
		if wd, err := os.Getwd(); err == nil {
			dir = wd
		}
	}
	if err := m.SetPath(dir); err != nil {
		m.inputErr = err
		m.mode = modeInput
		m.input.Focus()
	}
	return m
}

// Pick runs the picker until the user chooses a file or leaves.
func Pick(ctx context.Context, dir string) (string, error) {
	p := tea.NewProgram(InitialModel(dir), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		return "", err
	}
	m, ok := final.(Model)
	if !ok || m.selected == "" {
		return "", ErrNoSelection
	}
	return m.selected, nil
}

// Selected returns the confirmed file, if any.
func (m Model) Selected() string {
	return m.selected
}

// --- Bubble Tea Methods ---
func (m Model) Init() tea.Cmd {
	if m.mode == modeInput {
		return textinput.Blink
	}
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.quitting {
		return m, nil
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		return m, nil

	case SelectedFileMsg:
		m.selected = msg.Path
		m.quitting = true
		return m, tea.Quit

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			if m.mode == modeInput && m.path != "" {
				m.mode = modeBrowse
				m.input.Blur()
				m.input.Reset()
				m.inputErr = nil
				return m, nil
			}
			m.quitting = true
			return m, tea.Quit
		}

		switch m.mode {
		case modeBrowse:
			return m.updateBrowse(msg)
		case modeInput:
			return m.updateInput(msg)
		}
	}
	return m, nil
}

func (m Model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	visible := m.visibleItems()

	switch {
	case key.Matches(msg, m.keys.ToggleInput):
		m.mode = modeInput
		m.input.Focus()
		return m, textinput.Blink

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}

	case key.Matches(msg, m.keys.PageDown):
		m.cursor = min(m.cursor+visible, max(len(m.items)-1, 0))

	case key.Matches(msg, m.keys.PageUp):
		m.cursor = max(m.cursor-visible, 0)

	case key.Matches(msg, m.keys.Parent):
		if parent := filepath.Dir(m.path); parent != m.path {
			if err := m.SetPath(parent); err != nil {
				m.inputErr = err
			}
		}

	case key.Matches(msg, m.keys.Confirm):
		if len(m.items) == 0 {
			return m, nil
		}
		item := m.items[m.cursor]
		path := filepath.Join(m.path, item.Name())
		if item.IsDir() {
			if err := m.SetPath(path); err != nil {
				m.inputErr = err
			}
			return m, nil
		}
		if !item.Type().IsRegular() {
			m.inputErr = fmt.Errorf("not a regular file: %s", item.Name())
			return m, nil
		}
		return m, func() tea.Msg {
			return SelectedFileMsg{Path: path}
		}
	}

	m.scrollToCursor(visible)
	return m, nil
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Confirm) {
		path := m.input.Value()
		if !filepath.IsAbs(path) {
			path = filepath.Join(m.path, path)
		}
		if err := m.SetPath(path); err != nil {
			m.inputErr = err
			return m, nil
		}
		m.input.Blur()
		m.input.Reset()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// SetPath switches the picker to browse dir. Directories are listed first.
func (m *Model) SetPath(dir string) error {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	exists, isDir, err := util.CheckDirectory(absPath)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("path does not exist: %s", absPath)
	}
	if !isDir {
		return fmt.Errorf("path is not a directory: %s", absPath)
	}
	items, err := os.ReadDir(absPath)
	if err != nil {
		return fmt.Errorf("could not read directory: %w", err)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].IsDir() != items[j].IsDir() {
			return items[i].IsDir()
		}
		return items[i].Name() < items[j].Name()
	})
	m.path = absPath
	m.items = items
	m.cursor = 0
	m.offset = 0
	m.inputErr = nil
	m.mode = modeBrowse
	return nil
}

func (m *Model) scrollToCursor(visible int) {
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+visible {
		m.offset = m.cursor - visible + 1
	}
}

func (m Model) visibleItems() int {
	const headerHeight = 8
	visible := m.height - headerHeight
	if visible < 1 {
		visible = 15
	}
	return visible
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var s strings.Builder
	s.WriteString(style.TitleStyle.Render("Pick a file to send") + " " + m.helpView() + "\n\n")

	if m.mode == modeInput {
		s.WriteString(m.input.View() + "\n")
	}
	if m.inputErr != nil {
		s.WriteString(style.ErrorStyle.Render(m.inputErr.Error()) + "\n")
	}
	if m.path == "" {
		return s.String()
	}
	s.WriteString(fmt.Sprintf("Browsing: %s\n\n", m.path))

	const (
		nameWidth = 36
		sizeWidth = 12
		typeWidth = 28
	)
	s.WriteString(style.HeaderStyle.Render(
		"  "+util.PadRight("Name", nameWidth)+" "+util.PadRight("Size", sizeWidth)+" "+util.PadRight("Type", typeWidth),
	) + "\n")

	visible := m.visibleItems()
	end := min(m.offset+visible, len(m.items))
	for i := m.offset; i < end; i++ {
		item := m.items[i]
		if i == m.cursor {
			s.WriteString(style.CursorStyle.String())
		} else {
			s.WriteString(style.NoCursorStyle.String())
		}

		name := item.Name()
		size, typ := "", ""
		if item.IsDir() {
			name += "/"
			size = "<DIR>"
		} else if info, err := item.Info(); err == nil {
			size = util.FormatSize(info.Size())
			if i == m.cursor {
				// only the highlighted row is sniffed to keep scrolling cheap
				if mime, err := mimetype.DetectFile(filepath.Join(m.path, item.Name())); err == nil {
					typ = mime.String()
				}
			}
		}

		nameCell := util.PadRight(name, nameWidth)
		if item.IsDir() {
			nameCell = style.DirStyle.Render(nameCell)
		}
		s.WriteString(nameCell + " " + util.PadRight(size, sizeWidth) + " " + util.PadRight(typ, typeWidth) + "\n")
	}

	if len(m.items) > visible {
		s.WriteString(fmt.Sprintf("\n... %d/%d ...\n", m.cursor+1, len(m.items)))
	}
	return s.String()
}

func (m Model) helpView() string {
	return style.HelpStyle.Render(
		fmt.Sprintf("'%s' to open or send, '%s' for parent, '%s' to type a path, '%s' to quit",
			m.keys.Confirm.Help().Key, m.keys.Parent.Help().Key, m.keys.ToggleInput.Help().Key, m.keys.Quit.Help().Key),
	)
}
