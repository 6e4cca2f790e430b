// Package threads is the terminal list of ranked threads.
package threads

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/storyline/internal/coord"
	"github.com/abelbrown/storyline/internal/view/styles"
)

// maxArticles caps the members listed under an expanded thread.
const maxArticles = 8

// Model is the thread list view model.
type Model struct {
	threads  []coord.Thread
	expanded map[int]bool
	cursor   int
	width    int
	height   int
	viewport int // index of the first visible thread
}

func New() Model {
	return Model{expanded: make(map[int]bool)}
}

// SetThreads replaces the list. Expansion state is reset; the cursor is
// clamped.
func (m *Model) SetThreads(threads []coord.Thread) {
	m.threads = threads
	m.expanded = make(map[int]bool)
	if m.cursor >= len(threads) {
		m.cursor = max(0, len(threads)-1)
	}
	if m.viewport > m.cursor {
		m.viewport = m.cursor
	}
}

func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m Model) Threads() []coord.Thread {
	return m.threads
}

// Selected returns the thread under the cursor.
func (m Model) Selected() (coord.Thread, bool) {
	if m.cursor >= 0 && m.cursor < len(m.threads) {
		return m.threads[m.cursor], true
	}
	return coord.Thread{}, false
}

func (m Model) Cursor() int {
	return m.cursor
}

// Expanded reports whether thread i shows its articles.
func (m Model) Expanded(i int) bool {
	return m.expanded[i]
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.threads)-1 {
				m.cursor++
			}
		case key.Matches(msg, keys.PageUp):
			m.cursor = max(0, m.cursor-m.visibleThreads())
		case key.Matches(msg, keys.PageDown):
			m.cursor = max(0, min(len(m.threads)-1, m.cursor+m.visibleThreads()))
		case key.Matches(msg, keys.Home):
			m.cursor = 0
			m.viewport = 0
		case key.Matches(msg, keys.End):
			m.cursor = max(0, len(m.threads)-1)
		case key.Matches(msg, keys.Expand):
			if len(m.threads) > 0 {
				m.expanded[m.cursor] = !m.expanded[m.cursor]
			}
		}
	}
	m.ensureCursorVisible()
	return m, nil
}

func (m *Model) ensureCursorVisible() {
	visible := m.visibleThreads()
	if m.cursor < m.viewport {
		m.viewport = m.cursor
	}
	if m.cursor >= m.viewport+visible {
		m.viewport = m.cursor - visible + 1
	}
}

// visibleThreads is how many collapsed threads fit. Expanded threads may
// push the tail of the page off screen.
func (m Model) visibleThreads() int {
	return max(1, m.height)
}

func (m Model) View() string {
	if len(m.threads) == 0 {
		return styles.Help.Render("No threads in this window.")
	}

	var b strings.Builder
	lines := 0
	for i := m.viewport; i < len(m.threads) && (m.height <= 0 || lines < m.height); i++ {
		b.WriteString(m.renderThread(i))
		b.WriteString("\n")
		lines++
		if !m.expanded[i] {
			continue
		}
		articles := m.threads[i].Articles
		for j, name := range articles {
			if j == maxArticles {
				b.WriteString(styles.Article.Render(fmt.Sprintf("… %d more", len(articles)-maxArticles)))
				b.WriteString("\n")
				lines++
				break
			}
			b.WriteString(styles.Article.Render(name))
			b.WriteString("\n")
			lines++
		}
	}
	return b.String()
}

func (m Model) renderThread(i int) string {
	th := m.threads[i]
	badge := styles.SizeBadge.Render(fmt.Sprintf("%3d", len(th.Articles)))

	marker := "▸"
	if m.expanded[i] {
		marker = "▾"
	}
	maxTitle := max(20, m.width-20)
	line := fmt.Sprintf("%s %s %s", marker, badge, styles.Truncate(th.Title, maxTitle))

	if i == m.cursor {
		return styles.ItemSelected.Render(line)
	}
	return styles.ItemNormal.Render(line)
}

var keys = struct {
	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Home     key.Binding
	End      key.Binding
	Expand   key.Binding
}{
	Up:       key.NewBinding(key.WithKeys("up", "k")),
	Down:     key.NewBinding(key.WithKeys("down", "j")),
	PageUp:   key.NewBinding(key.WithKeys("pgup", "ctrl+u")),
	PageDown: key.NewBinding(key.WithKeys("pgdown", "ctrl+d")),
	Home:     key.NewBinding(key.WithKeys("home", "g")),
	End:      key.NewBinding(key.WithKeys("end", "G")),
	Expand:   key.NewBinding(key.WithKeys("enter", " ")),
}
