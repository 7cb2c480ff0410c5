// Package tui provides the interactive terminal dashboard for Circadia.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/circadia/internal/models"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	onlineStyle  = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	offlineStyle = lipgloss.NewStyle().Foreground(errorColor)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(cyanColor)
)

type view int

const (
	viewJobs view = iota
	viewTasks
	viewStats
)

var viewNames = []string{"JOBS", "RESEARCH", "STATS"}

var (
	jobFilters  = []string{"", "pending", "running", "completed", "failed", "skipped"}
	taskFilters = []string{"", "pending", "in_progress", "completed", "failed"}
)

// refreshInterval is how often the dashboard polls the daemon.
const refreshInterval = 2 * time.Second

// App is the main TUI application model.
type App struct {
	client       *Client
	view         view
	jobs         list.Model
	tasks        list.Model
	stats        *Stats
	input        textinput.Model
	jobFilter    int
	taskFilter   int
	width        int
	height       int
	message      string
	daemonOnline bool
}

// New creates a new TUI application.
func New(apiAddr string) *App {
	ti := textinput.New()
	ti.Placeholder = "research <user> <query> | deep <user> <query>   (: to type, esc to leave)"
	ti.CharLimit = 256
	ti.Width = 80

	return &App{
		client: NewClient(apiAddr),
		jobs:   newList("Jobs"),
		tasks:  newList("Research"),
		input:  ti,
	}
}

func newList(title string) list.Model {
	l := list.New([]list.Item{}, list.NewDefaultDelegate(), 80, 20)
	l.Title = title
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle
	return l
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.refresh(), a.tickCmd())
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if a.input.Focused() {
			return a.updateInput(msg)
		}
		if a.activeList().FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit
		case "tab":
			a.view = (a.view + 1) % view(len(viewNames))
			return a, nil
		case "f":
			a.cycleFilter()
			return a, a.refresh()
		case "r":
			return a, a.refresh()
		case ":":
			a.input.Focus()
			return a, textinput.Blink
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 6
		listHeight := msg.Height - 8
		if listHeight < 5 {
			listHeight = 5
		}
		a.jobs.SetSize(msg.Width, listHeight)
		a.tasks.SetSize(msg.Width, listHeight)
		return a, nil

	case snapshotMsg:
		a.daemonOnline = msg.err == nil
		if msg.err != nil {
			a.message = "Error: " + msg.err.Error()
			return a, nil
		}
		a.setJobs(msg.jobs)
		a.setTasks(msg.tasks)
		a.stats = msg.stats
		return a, nil

	case tickMsg:
		return a, tea.Batch(a.refresh(), a.tickCmd())

	case commandResultMsg:
		a.message = msg.message
		return a, a.refresh()

	case errMsg:
		a.message = "Error: " + msg.err.Error()
		return a, nil
	}

	var cmd tea.Cmd
	switch a.view {
	case viewJobs:
		a.jobs, cmd = a.jobs.Update(msg)
	case viewTasks:
		a.tasks, cmd = a.tasks.Update(msg)
	}
	return a, cmd
}

func (a *App) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return a, tea.Quit
	case "esc":
		a.input.Blur()
		return a, nil
	case "enter":
		line := strings.TrimSpace(a.input.Value())
		a.input.SetValue("")
		a.input.Blur()
		return a, a.executeCommand(line)
	}
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *App) activeList() *list.Model {
	if a.view == viewTasks {
		return &a.tasks
	}
	return &a.jobs
}

func (a *App) cycleFilter() {
	switch a.view {
	case viewJobs:
		a.jobFilter = (a.jobFilter + 1) % len(jobFilters)
		a.jobs.Title = "Jobs" + filterLabel(jobFilters[a.jobFilter])
	case viewTasks:
		a.taskFilter = (a.taskFilter + 1) % len(taskFilters)
		a.tasks.Title = "Research" + filterLabel(taskFilters[a.taskFilter])
	}
}

func filterLabel(f string) string {
	if f == "" {
		return ""
	}
	return " [" + f + "]"
}

func (a *App) setJobs(jobs []models.Job) {
	items := make([]list.Item, len(jobs))
	for i, j := range jobs {
		items[i] = JobItem{j}
	}
	a.jobs.SetItems(items)
}

func (a *App) setTasks(tasks []models.ResearchTask) {
	items := make([]list.Item, len(tasks))
	for i, t := range tasks {
		items[i] = TaskItem{t}
	}
	a.tasks.SetItems(items)
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}

	var tabs []string
	for i, name := range viewNames {
		if view(i) == a.view {
			tabs = append(tabs, headerStyle.Render("["+name+"]"))
		} else {
			tabs = append(tabs, lipgloss.NewStyle().Foreground(mutedColor).Render(" "+name+" "))
		}
	}

	b.WriteString(titleStyle.Render("Circadia") + "  " + daemonStatus + "  " + strings.Join(tabs, " ") + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 1)) + "\n")

	switch a.view {
	case viewJobs:
		b.WriteString(a.jobs.View())
	case viewTasks:
		b.WriteString(a.tasks.View())
	case viewStats:
		b.WriteString(renderStats(a.stats))
	}

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	}

	b.WriteString("\n" + inputBoxStyle.Render(a.input.View()) + "\n")
	b.WriteString(statusBarStyle.Width(a.width).Render(" Tab:view | f:filter | /:search | r:refresh | ::command | q:quit"))

	return b.String()
}

func renderStats(s *Stats) string {
	if s == nil {
		return "\n  Loading...\n"
	}

	var b strings.Builder
	sc := s.Scheduler
	fmt.Fprintf(&b, "%s\n", headerStyle.Render("Scheduler"))
	fmt.Fprintf(&b, "  Active users:  %d / %d\n", sc.ActiveUsers, sc.MaxConcurrentUsers)
	fmt.Fprintf(&b, "  Outcomes:      %d completed, %d failed, %d skipped, %d not run, %d deferred\n", sc.Completed, sc.Failed, sc.Skipped, sc.NotRun, sc.Deferred)
	fmt.Fprintf(&b, "  Last generate: %s\n", formatSince(sc.LastGenerationAt))
	fmt.Fprintf(&b, "  Last dispatch: %s\n", formatSince(sc.LastDispatchAt))
	fmt.Fprintf(&b, "  Jobs:          %s\n\n", formatCounts(s.Jobs))

	fmt.Fprintf(&b, "%s\n", headerStyle.Render("Research"))
	if r := s.Research; r != nil {
		running := "idle"
		if r.Running {
			running = "running"
		}
		fmt.Fprintf(&b, "  Runner:        %s (%d runs, %d overlaps)\n", running, r.Runs, r.Overlaps)
		fmt.Fprintf(&b, "  Processed:     %d (%d ok, %d failed, %d reclaimed)\n", r.Processed, r.Successful, r.Failed, r.Reclaimed)
		fmt.Fprintf(&b, "  Not finished:  %d unclaimed, %d interrupted\n", r.Unclaimed, r.Interrupted)
		fmt.Fprintf(&b, "  Last run:      %s\n", formatSince(r.LastRunAt))
	} else {
		b.WriteString("  Runner:        disabled\n")
	}
	fmt.Fprintf(&b, "  Tasks:         %s\n", formatCounts(s.Tasks))

	return panelStyle.Render(b.String())
}

func formatCounts(m map[string]int) string {
	if len(m) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[k])
	}
	return strings.Join(parts, " ")
}

func formatSince(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return formatDuration(time.Since(*t)) + " ago"
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

func (a *App) refresh() tea.Cmd {
	jobFilter := jobFilters[a.jobFilter]
	taskFilter := taskFilters[a.taskFilter]
	return func() tea.Msg {
		jobs, err := a.client.ListJobs(jobFilter)
		if err != nil {
			return snapshotMsg{err: err}
		}
		tasks, err := a.client.ListTasks(taskFilter)
		if err != nil {
			return snapshotMsg{err: err}
		}
		stats, err := a.client.GetStats()
		if err != nil {
			return snapshotMsg{err: err}
		}
		return snapshotMsg{jobs: jobs, tasks: tasks, stats: stats}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) executeCommand(input string) tea.Cmd {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	cmd := parts[0]
	args := parts[1:]

	return func() tea.Msg {
		switch cmd {
		case "research", "deep":
			if len(args) < 2 {
				return commandResultMsg{fmt.Sprintf("Usage: %s <user> <query>", cmd)}
			}
			depth := models.DepthShallow
			if cmd == "deep" {
				depth = models.DepthDeep
			}
			id, err := a.client.CreateTask(args[0], strings.Join(args[1:], " "), depth)
			if err != nil {
				return errMsg{err}
			}
			return commandResultMsg{fmt.Sprintf("✓ Queued %s research task %s", depth, truncate(id, 8))}
		default:
			return commandResultMsg{fmt.Sprintf("Unknown command: %s", cmd)}
		}
	}
}

type commandResultMsg struct {
	message string
}

type errMsg struct {
	err error
}

type snapshotMsg struct {
	jobs  []models.Job
	tasks []models.ResearchTask
	stats *Stats
	err   error
}

type tickMsg time.Time
