package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/devassist/internal/core"
)

// Dashboard panel indices.
const (
	panelSession = iota
	panelMetrics
	panelAlerts
	panelCount
)

// dashboardRefresh is how often the dashboard reloads on its own.
const dashboardRefresh = 30 * time.Second

type dashboardModel struct {
	activePanel int
	width       int
	height      int

	// Data.
	session     *sessionSnapshot
	metricsData *metricsSnapshot
	alerts      []alertSnapshot

	// State.
	loading bool
	err     error
}

type sessionSnapshot struct {
	active        bool
	id            string
	branch        string
	description   string
	duration      time.Duration
	records       int
	lastHeartbeat string
	knowledge     int
}

type metricsSnapshot struct {
	sessionsStarted   int
	sessionsRecovered int
	checkpoints       int
	knowledgeRecorded int
	bytesFreed        int64
	eventCount        int
}

type alertSnapshot struct {
	severity string
	message  string
	time     string
}

// dataLoadedMsg carries loaded data back to the model.
type dataLoadedMsg struct {
	session *sessionSnapshot
	metrics *metricsSnapshot
	alerts  []alertSnapshot
	err     error
}

// refreshTickMsg triggers a periodic reload.
type refreshTickMsg time.Time

// Style definitions.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(1, 2)

	activePanelStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				Padding(1, 2)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			MarginBottom(1)

	stateActive = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	stateIdle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	severityHigh   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	severityMedium = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	severityLow    = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func newDashboardModel() dashboardModel {
	return dashboardModel{
		activePanel: panelSession,
		loading:     true,
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(loadData, scheduleRefresh())
}

func scheduleRefresh() tea.Cmd {
	return tea.Tick(dashboardRefresh, func(t time.Time) tea.Msg {
		return refreshTickMsg(t)
	})
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.activePanel = (m.activePanel + 1) % panelCount
			return m, nil
		case "shift+tab":
			m.activePanel = (m.activePanel - 1 + panelCount) % panelCount
			return m, nil
		case "r":
			m.loading = true
			return m, loadData
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case refreshTickMsg:
		return m, tea.Batch(loadData, scheduleRefresh())

	case dataLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.session = msg.session
		m.metricsData = msg.metrics
		m.alerts = msg.alerts
		m.err = nil
		return m, nil
	}

	return m, nil
}

func (m dashboardModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render(" devassist ")
	help := helpStyle.Render("tab: switch panel | r: refresh | q: quit")

	if m.loading {
		return fmt.Sprintf("%s\n\n  Loading data...\n\n%s", title, help)
	}

	if m.err != nil {
		return fmt.Sprintf("%s\n\n  Error: %s\n\n%s", title, m.err, help)
	}

	sessionPanel := m.renderSessionPanel()
	metricsPanel := m.renderMetricsPanel()
	alertsPanel := m.renderAlertsPanel()

	// Available width for panels after accounting for margins.
	availableWidth := m.width - 2

	var body string
	if availableWidth > 120 {
		colWidth := availableWidth / 3
		sessionPanel = m.applyPanelStyle(panelSession, sessionPanel, colWidth-4)
		metricsPanel = m.applyPanelStyle(panelMetrics, metricsPanel, colWidth-4)
		alertsPanel = m.applyPanelStyle(panelAlerts, alertsPanel, colWidth-4)
		body = lipgloss.JoinHorizontal(lipgloss.Top, sessionPanel, metricsPanel, alertsPanel)
	} else {
		panelWidth := availableWidth - 4
		if panelWidth < 20 {
			panelWidth = 20
		}
		sessionPanel = m.applyPanelStyle(panelSession, sessionPanel, panelWidth)
		metricsPanel = m.applyPanelStyle(panelMetrics, metricsPanel, panelWidth)
		alertsPanel = m.applyPanelStyle(panelAlerts, alertsPanel, panelWidth)
		body = lipgloss.JoinVertical(lipgloss.Left, sessionPanel, metricsPanel, alertsPanel)
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, body, help)
}

func (m dashboardModel) applyPanelStyle(panel int, content string, width int) string {
	style := panelStyle
	if m.activePanel == panel {
		style = activePanelStyle
	}
	return style.Width(width).Render(content)
}

func (m dashboardModel) renderSessionPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Session"))
	b.WriteString("\n")

	s := m.session
	if s == nil || !s.active {
		b.WriteString(stateIdle.Render("  No active session."))
		if s != nil {
			b.WriteString(fmt.Sprintf("\n\n  Knowledge items: %d", s.knowledge))
		}
		return b.String()
	}

	b.WriteString(stateActive.Render("  ● active"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  %-12s %s\n", "ID", s.id))
	b.WriteString(fmt.Sprintf("  %-12s %s\n", "Branch", s.branch))
	if s.description != "" {
		b.WriteString(fmt.Sprintf("  %-12s %s\n", "About", s.description))
	}
	b.WriteString(fmt.Sprintf("  %-12s %s\n", "Duration", core.FormatDuration(s.duration)))
	b.WriteString(fmt.Sprintf("  %-12s %d\n", "Records", s.records))
	if s.lastHeartbeat != "" {
		b.WriteString(fmt.Sprintf("  %-12s %s\n", "Heartbeat", s.lastHeartbeat))
	}
	b.WriteString(fmt.Sprintf("\n  Knowledge items: %d", s.knowledge))

	return b.String()
}

func (m dashboardModel) renderMetricsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Metrics (7d)"))
	b.WriteString("\n")

	if m.metricsData == nil {
		b.WriteString("  No metrics available.")
		return b.String()
	}

	md := m.metricsData
	lines := []struct {
		label string
		value string
	}{
		{"Events", fmt.Sprint(md.eventCount)},
		{"Sessions", fmt.Sprint(md.sessionsStarted)},
		{"Crashes", fmt.Sprint(md.sessionsRecovered)},
		{"Checkpoints", fmt.Sprint(md.checkpoints)},
		{"Knowledge", fmt.Sprint(md.knowledgeRecorded)},
		{"Freed", core.FormatBytes(md.bytesFreed)},
	}

	for _, l := range lines {
		b.WriteString(fmt.Sprintf("  %-14s %s\n", l.label, l.value))
	}

	return b.String()
}

func (m dashboardModel) renderAlertsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Alerts"))
	b.WriteString("\n")

	if len(m.alerts) == 0 {
		b.WriteString("  No active alerts.")
		return b.String()
	}

	for _, a := range m.alerts {
		sev := styleForSeverity(a.severity).Render(fmt.Sprintf("[%s]", strings.ToUpper(a.severity)))
		b.WriteString(fmt.Sprintf("  %s %s\n", sev, a.message))
	}

	b.WriteString(fmt.Sprintf("\n  Total: %d alert(s)", len(m.alerts)))

	return b.String()
}

func styleForSeverity(severity string) lipgloss.Style {
	switch strings.ToLower(severity) {
	case "high":
		return severityHigh
	case "medium":
		return severityMedium
	case "low":
		return severityLow
	default:
		return lipgloss.NewStyle()
	}
}

func loadData() tea.Msg {
	result := dataLoadedMsg{}

	if Sessions != nil {
		if err := attachSession(); err != nil {
			var noActive *core.NoActiveSessionError
			if !errors.As(err, &noActive) {
				result.err = fmt.Errorf("loading session: %w", err)
				return result
			}
		}
		st := Sessions.Status()
		snap := &sessionSnapshot{active: st.Active && st.Session != nil}
		if snap.active {
			s := st.Session
			snap.id = s.ID
			snap.branch = s.GitBranch
			snap.description = s.Description
			snap.duration = st.Duration
			snap.records = st.KnowledgeCount
			if s.LastHeartbeatAt != nil {
				snap.lastHeartbeat = s.LastHeartbeatAt.Local().Format("15:04:05")
			}
		}
		if KnowledgeMgr != nil {
			stats, err := KnowledgeMgr.Stats()
			if err != nil {
				result.err = fmt.Errorf("loading knowledge stats: %w", err)
				return result
			}
			snap.knowledge = stats.Total
		}
		result.session = snap
	}

	if MetricsCalc != nil {
		since := time.Now().UTC().AddDate(0, 0, -7)
		metrics, err := MetricsCalc.Calculate(since)
		if err != nil {
			result.err = fmt.Errorf("loading metrics: %w", err)
			return result
		}
		result.metrics = &metricsSnapshot{
			sessionsStarted:   metrics.SessionsStarted,
			sessionsRecovered: metrics.SessionsRecovered,
			checkpoints:       metrics.Checkpoints,
			knowledgeRecorded: metrics.KnowledgeRecorded,
			bytesFreed:        metrics.CleanupBytesFreed,
			eventCount:        metrics.EventCount,
		}
	}

	if AlertEngine != nil {
		alerts, err := AlertEngine.Evaluate()
		if err != nil {
			result.err = fmt.Errorf("loading alerts: %w", err)
			return result
		}
		result.alerts = make([]alertSnapshot, 0, len(alerts))

		sort.SliceStable(alerts, func(i, j int) bool {
			return severityRank(string(alerts[i].Severity)) < severityRank(string(alerts[j].Severity))
		})

		for _, a := range alerts {
			result.alerts = append(result.alerts, alertSnapshot{
				severity: string(a.Severity),
				message:  a.Message,
				time:     a.TriggeredAt.Format("2006-01-02 15:04 UTC"),
			})
		}
	}

	return result
}

func severityRank(s string) int {
	switch s {
	case "high":
		return 0
	case "medium":
		return 1
	case "low":
		return 2
	default:
		return 3
	}
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Interactive TUI dashboard for the session, metrics and alerts",
	Long: `Launch an interactive terminal dashboard showing the active session,
metrics, and alerts. The view reloads every 30 seconds.

Navigate between panels with Tab, refresh with r, quit with q.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Sessions == nil {
			return fmt.Errorf("session manager not initialized")
		}
		p := tea.NewProgram(newDashboardModel(), tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
