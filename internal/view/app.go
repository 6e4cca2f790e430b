// Package view is the terminal browser for ranked threads.
//
// The root Model owns the query (language, category, period) and reads the
// current index from a coord.Holder; the threads sub-view only renders the
// list it is given. While no index has been published the header shows a
// spinner and the model polls the holder.
package view

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/storyline/internal/coord"
	"github.com/abelbrown/storyline/internal/model"
	"github.com/abelbrown/storyline/internal/ranking"
	"github.com/abelbrown/storyline/internal/view/styles"
	"github.com/abelbrown/storyline/internal/view/threads"
)

const pollInterval = 500 * time.Millisecond

// ViewMode is the current screen.
type ViewMode int

const (
	ModeThreads ViewMode = iota
	ModeHelp
)

// Options configures the browser. Zero fields take defaults: 24h period,
// English, all categories.
type Options struct {
	Holder   *coord.Holder
	Ranker   *ranking.Ranker
	Period   uint64
	Language model.Language
	Category model.Category
	Limit    int
}

// Model is the root Bubble Tea model.
type Model struct {
	holder *coord.Holder
	ranker *ranking.Ranker
	period uint64
	limit  int

	langs []model.Language
	lang  int
	cats  []model.Category
	cat   int

	list    threads.Model
	mode    ViewMode
	width   int
	height  int
	spinner spinner.Model
	loading bool
	version string
	status  string
}

func New(opts Options) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Spinner

	if opts.Ranker == nil {
		opts.Ranker = ranking.NewRanker(0)
	}
	if opts.Period == 0 {
		opts.Period = 24 * 3600
	}

	m := Model{
		holder:  opts.Holder,
		ranker:  opts.Ranker,
		period:  opts.Period,
		limit:   opts.Limit,
		langs:   []model.Language{model.LanguageEN, model.LanguageRU},
		cats:    append([]model.Category{model.CategoryAny}, model.NewsCategories()...),
		list:    threads.New(),
		spinner: s,
		loading: true,
		status:  "waiting for index",
	}
	for i, l := range m.langs {
		if l == opts.Language {
			m.lang = i
		}
	}
	for i, c := range m.cats {
		if c == opts.Category {
			m.cat = i
		}
	}
	return m
}

func (m Model) Language() model.Language { return m.langs[m.lang] }

func (m Model) Category() model.Category { return m.cats[m.cat] }

func (m Model) Loading() bool { return m.loading }

func (m Model) List() threads.Model { return m.list }

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.load())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width, msg.Height-4) // header, tabs and status bar

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Help):
			m.mode = ModeHelp
			return m, nil
		case key.Matches(msg, keys.Escape):
			m.mode = ModeThreads
			return m, nil
		case key.Matches(msg, keys.NextCategory):
			m.cat = (m.cat + 1) % len(m.cats)
			cmds = append(cmds, m.load())
		case key.Matches(msg, keys.PrevCategory):
			m.cat = (m.cat + len(m.cats) - 1) % len(m.cats)
			cmds = append(cmds, m.load())
		case key.Matches(msg, keys.Language):
			m.lang = (m.lang + 1) % len(m.langs)
			cmds = append(cmds, m.load())
		case key.Matches(msg, keys.Refresh):
			cmds = append(cmds, m.load())
		default:
			if m.mode == ModeThreads {
				var cmd tea.Cmd
				m.list, cmd = m.list.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case threadsMsg:
		// Drop results for a query the user has already moved away from.
		if msg.lang != m.Language() || msg.cat != m.Category() {
			break
		}
		m.loading = false
		m.version = msg.version
		m.list.SetThreads(msg.threads)
		m.status = fmt.Sprintf("%d threads", len(msg.threads))

	case noIndexMsg:
		m.loading = true
		m.status = "waiting for index"
		cmds = append(cmds, tea.Tick(pollInterval, func(time.Time) tea.Msg { return pollMsg{} }))

	case pollMsg:
		cmds = append(cmds, m.load())
	}

	return m, tea.Batch(cmds...)
}

type threadsMsg struct {
	lang    model.Language
	cat     model.Category
	version string
	threads []coord.Thread
}

type noIndexMsg struct{}

type pollMsg struct{}

// load reads the current index and ranks it for the selected query.
func (m Model) load() tea.Cmd {
	holder, ranker := m.holder, m.ranker
	q := coord.Query{Period: m.period, Language: m.Language(), Category: m.Category(), Limit: m.limit}
	return func() tea.Msg {
		if holder == nil {
			return noIndexMsg{}
		}
		idx := holder.Load()
		if idx == nil {
			return noIndexMsg{}
		}
		return threadsMsg{
			lang:    q.Language,
			cat:     q.Category,
			version: idx.Version,
			threads: coord.Threads(idx, ranker, q),
		}
	}
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	switch m.mode {
	case ModeHelp:
		b.WriteString(m.renderHelp())
	default:
		if m.loading {
			b.WriteString(styles.Help.Render(m.spinner.View() + " building index..."))
		} else {
			b.WriteString(m.list.View())
		}
	}

	b.WriteString("\n")
	b.WriteString(styles.StatusBar.Render(fmt.Sprintf("%s │ j/k move  enter expand  tab category  l language  r refresh  q quit", m.status)))
	return b.String()
}

func (m Model) renderHeader() string {
	left := fmt.Sprintf("STORYLINE │ %s │ last %s", m.Language(), time.Duration(m.period)*time.Second)
	right := ""
	switch {
	case m.loading:
		right = m.spinner.View() + " " + m.status
	case m.version != "":
		right = "index " + shortVersion(m.version)
	}
	padding := max(0, m.width-len(left)-len(right)-4)
	return styles.Header.Render(left + strings.Repeat(" ", padding) + right)
}

func (m Model) renderTabs() string {
	tabs := make([]string, len(m.cats))
	for i, c := range m.cats {
		if i == m.cat {
			tabs[i] = styles.TabActive.Render(c.String())
		} else {
			tabs[i] = styles.Tab.Render(c.String())
		}
	}
	return strings.Join(tabs, "")
}

func (m Model) renderHelp() string {
	return styles.Help.Render(`
  NAVIGATION
    j/k, ↑/↓       Move cursor
    g/G            Jump to top/bottom
    enter          Show or hide articles

  QUERY
    tab/shift+tab  Next/previous category
    l              Switch language
    r              Re-rank from the current index

  Press esc to return, q to quit
`)
}

func shortVersion(v string) string {
	if len(v) > 8 {
		return v[:8]
	}
	return v
}

var keys = struct {
	Quit         key.Binding
	Help         key.Binding
	Escape       key.Binding
	NextCategory key.Binding
	PrevCategory key.Binding
	Language     key.Binding
	Refresh      key.Binding
}{
	Quit:         key.NewBinding(key.WithKeys("q", "ctrl+c")),
	Help:         key.NewBinding(key.WithKeys("?")),
	Escape:       key.NewBinding(key.WithKeys("esc")),
	NextCategory: key.NewBinding(key.WithKeys("tab")),
	PrevCategory: key.NewBinding(key.WithKeys("shift+tab")),
	Language:     key.NewBinding(key.WithKeys("l")),
	Refresh:      key.NewBinding(key.WithKeys("r")),
}
