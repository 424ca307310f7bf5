package history

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/muesli/reflow/wordwrap"
)

var (
	pagerTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	pagerInfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	liveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	matchStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	notFoundStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))
)

// Page shows content in an interactive full-screen pager.
func Page(title, content string) error {
	prog := tea.NewProgram(
		newPagerModel(title, content),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	_, err := prog.Run()
	return err
}

// PageLive shows render's output and re-renders whenever path is written.
// path need not exist yet.
func PageLive(title, path string, render func() (string, error)) error {
	content, err := render()
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	m := newPagerModel(title, content)
	m.live = true
	m.render = render
	m.watcher = watcher
	m.path = filepath.Clean(path)

	prog := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err = prog.Run()
	return err
}

// contentChangedMsg is sent when the watched file changes.
type contentChangedMsg struct{}

type pagerModel struct {
	viewport viewport.Model
	title    string
	content  string
	wrapped  string // content as displayed, used for searching
	ready    bool
	follow   bool // keep the view pinned to the bottom

	live    bool
	render  func() (string, error)
	watcher *fsnotify.Watcher
	path    string

	searching   bool
	searchInput textinput.Model
	query       string
	matches     []int // wrapped line numbers
	matchIdx    int
	notFound    bool
}

func newPagerModel(title, content string) *pagerModel {
	return &pagerModel{title: title, content: content}
}

func (m *pagerModel) Init() tea.Cmd {
	if m.live {
		return m.waitForChange()
	}
	return nil
}

// waitForChange blocks until the watched file is written.
func (m *pagerModel) waitForChange() tea.Cmd {
	return func() tea.Msg {
		for {
			select {
			case event, ok := <-m.watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(event.Name) != m.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					// let a burst of writes settle
					time.Sleep(100 * time.Millisecond)
					return contentChangedMsg{}
				}
			case _, ok := <-m.watcher.Errors:
				if !ok {
					return nil
				}
			}
		}
	}
}

func (m *pagerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.searching {
		return m.updateSearch(msg)
	}

	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case contentChangedMsg:
		if content, err := m.render(); err == nil {
			m.setContent(content)
		}
		cmds = append(cmds, m.waitForChange())

	case tea.KeyMsg:
		switch msg.String() {
		case "", "ctrl", "alt", "shift", "super":
			return m, nil
		case "q", "ctrl+c":
			return m, tea.Quit
		case "esc":
			if m.query == "" {
				return m, tea.Quit
			}
			m.clearSearch()
		case "g":
			m.follow = false
			m.viewport.GotoTop()
		case "G":
			m.viewport.GotoBottom()
		case "f", "F":
			if m.live {
				m.follow = !m.follow
				if m.follow {
					m.viewport.GotoBottom()
				}
			}
		case "/":
			m.searching = true
			m.searchInput = textinput.New()
			m.searchInput.Placeholder = "Search..."
			m.searchInput.CharLimit = 100
			m.searchInput.Width = 40
			m.searchInput.SetValue(m.query)
			m.searchInput.Focus()
			return m, textinput.Blink
		case "n":
			m.stepMatch(1)
		case "N":
			m.stepMatch(-1)
		}

	case tea.WindowSizeMsg:
		const chrome = 2 // header + footer
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-chrome)
			m.viewport.YPosition = 1
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - chrome
		}
		m.setContent(m.content)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *pagerModel) updateSearch(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "enter":
			m.searching = false
			m.query = m.searchInput.Value()
			m.search()
			if len(m.matches) > 0 {
				m.jumpTo(0)
			}
			return m, nil
		case "esc", "ctrl+c":
			m.searching = false
			m.clearSearch()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	return m, cmd
}

// setContent re-wraps content, keeping the scroll position unless following.
func (m *pagerModel) setContent(content string) {
	m.content = content
	if !m.ready {
		return
	}
	offset := m.viewport.YOffset
	m.wrapped = wrapContent(content, m.viewport.Width)
	m.viewport.SetContent(m.wrapped)
	if m.follow {
		m.viewport.GotoBottom()
	} else {
		m.viewport.SetYOffset(offset)
	}
	if m.query != "" {
		m.search()
	}
}

// search finds the displayed lines containing the query, ignoring case.
func (m *pagerModel) search() {
	m.matches = nil
	m.matchIdx = 0
	m.notFound = false
	if m.query == "" {
		return
	}
	q := strings.ToLower(m.query)
	for i, l := range strings.Split(m.wrapped, "\n") {
		if strings.Contains(strings.ToLower(l), q) {
			m.matches = append(m.matches, i)
		}
	}
	m.notFound = len(m.matches) == 0
}

func (m *pagerModel) clearSearch() {
	m.query = ""
	m.matches = nil
	m.notFound = false
}

func (m *pagerModel) stepMatch(delta int) {
	if len(m.matches) == 0 {
		return
	}
	m.matchIdx = (m.matchIdx + delta + len(m.matches)) % len(m.matches)
	m.jumpTo(m.matchIdx)
}

// jumpTo centers match i on screen where possible.
func (m *pagerModel) jumpTo(i int) {
	if i < 0 || i >= len(m.matches) {
		return
	}
	m.follow = false
	target := m.matches[i] - m.viewport.Height/2
	if maxOffset := m.viewport.TotalLineCount() - m.viewport.Height; target > maxOffset {
		target = maxOffset
	}
	if target < 0 {
		target = 0
	}
	m.viewport.SetYOffset(target)
}

func (m *pagerModel) View() string {
	if !m.ready {
		return "\n  Loading..."
	}

	title := pagerTitleStyle.Render(m.title)
	header := title + pagerInfoStyle.Render(strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(title))))

	if m.searching {
		return header + "\n" + m.viewport.View() + "\n" + matchStyle.Render("/") + m.searchInput.View()
	}

	var help string
	switch {
	case m.notFound:
		help = fmt.Sprintf(" %s │ /: search ", notFoundStyle.Render("Pattern not found"))
	case len(m.matches) > 0:
		help = fmt.Sprintf(" %s │ n/N: next/prev │ /: search │ esc: clear ",
			matchStyle.Render(fmt.Sprintf("[%d/%d]", m.matchIdx+1, len(m.matches))))
	case m.live:
		state := "f: follow"
		if m.follow {
			state = "f: stop following"
		}
		help = fmt.Sprintf(" %s │ q: quit │ /: search │ %s │ g/G: top/bottom ", liveStyle.Render("● LIVE"), state)
	default:
		help = " q: quit │ /: search │ n/N: next/prev │ g/G: top/bottom "
	}
	info := fmt.Sprintf(" %d%% ", int(m.viewport.ScrollPercent()*100))
	fill := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(help)-lipgloss.Width(info)))
	footer := pagerInfoStyle.Render(help) + pagerInfoStyle.Render(fill) + pagerInfoStyle.Render(info)

	return header + "\n" + m.viewport.View() + "\n" + footer
}

// wrapContent wraps lines to width. Timeline rows wrap under their content
// column so the gutter stays aligned.
func wrapContent(content string, width int) string {
	if width <= 0 {
		return content
	}
	var out []string
	for _, l := range strings.Split(content, "\n") {
		if lipgloss.Width(l) <= width {
			out = append(out, l)
			continue
		}
		if pipe := strings.LastIndex(l, "│"); pipe > 0 && pipe < len(l)-len("│") {
			start := pipe + len("│")
			for start < len(l) && l[start] == ' ' {
				start++
			}
			indent := lipgloss.Width(l[:start])
			avail := width - indent
			if avail < 20 {
				avail = 20
			}
			parts := strings.Split(wordwrap.String(l[start:], avail), "\n")
			out = append(out, l[:start]+parts[0])
			for _, p := range parts[1:] {
				out = append(out, strings.Repeat(" ", indent)+p)
			}
			continue
		}
		out = append(out, strings.Split(wordwrap.String(l, width), "\n")...)
	}
	return strings.Join(out, "\n")
}
