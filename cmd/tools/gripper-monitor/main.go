package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"

	"github.com/fisaks/uhn-gripper/internal/supervisor"
	"github.com/fisaks/uhn-gripper/internal/uhn"
)

const (
	headerHeight = 2 // title + blank line
	healthHeight = 4
	footerHeight = 7 // log box height
	maxLogs      = 5
	borderSize   = 2
	maxLatencyMs = 200
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	latencyLine = lipgloss.NewStyle().Foreground(lipgloss.Color("51"))
)

// Messages from the MQTT callback
type healthMsg struct {
	gripper string
	health  supervisor.Health
}

type statusMsg struct {
	gripper string
	status  uhn.StatusSnapshot
}

type logMsg string

type model struct {
	incoming chan tea.Msg
	chart    *streamlinechart.Model
	width    int
	height   int
	health   map[string]supervisor.Health
	status   map[string]uhn.StatusSnapshot
	selected string // gripper whose latency is charted
	logs     []string
	quitting bool
}

func waitForMsg(ch chan tea.Msg) tea.Cmd {
	return func() tea.Msg { return <-ch }
}

func (m *model) addLog(msg string) {
	m.logs = append(m.logs, time.Now().Format("15:04:05 ")+msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

func (m *model) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 12
	}
	width = max(m.width-borderSize-2, 40)
	height = max(m.height-headerHeight-healthHeight-footerHeight-borderSize, 6)
	return width, height
}

func initialModel(incoming chan tea.Msg) model {
	chart := streamlinechart.New(80, 12,
		streamlinechart.WithYRange(0, maxLatencyMs),
	)
	chart.SetStyles(runes.ThinLineStyle, latencyLine)
	return model{
		incoming: incoming,
		chart:    &chart,
		health:   map[string]supervisor.Health{},
		status:   map[string]uhn.StatusSnapshot{},
	}
}

func (m model) Init() tea.Cmd { return waitForMsg(m.incoming) }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		w, h := m.chartSize()
		m.chart.Resize(w, h)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "tab":
			m.selectNext()
		}
		return m, nil

	case healthMsg:
		prev, seen := m.health[msg.gripper]
		m.health[msg.gripper] = msg.health
		if m.selected == "" {
			m.selected = msg.gripper
		}
		if seen && prev.State != msg.health.State {
			m.addLog(fmt.Sprintf("%s: %s -> %s (%s)", msg.gripper, prev.State, msg.health.State, msg.health.ModbusStatus))
		}
		if msg.gripper == m.selected {
			latency := float64(msg.health.LatencyMs)
			if !msg.health.LastCheckSucceeded {
				latency = 0
			}
			m.chart.Push(min(latency, maxLatencyMs))
			m.chart.Draw()
		}
		return m, waitForMsg(m.incoming)

	case statusMsg:
		m.status[msg.gripper] = msg.status
		return m, waitForMsg(m.incoming)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForMsg(m.incoming)
	}
	return m, nil
}

func (m *model) selectNext() {
	names := m.names()
	if len(names) == 0 {
		return
	}
	i := sort.SearchStrings(names, m.selected)
	m.selected = names[(i+1)%len(names)]
	m.chart.ClearAllData()
	m.chart.Draw()
}

func (m model) names() []string {
	names := make([]string, 0, len(m.health))
	for n := range m.health {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (m model) View() string {
	if m.quitting {
		return "Monitor stopped.\n"
	}
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("UHN Gripper Monitor"))
	if m.selected != "" {
		sb.WriteString(statusStyle.Render("  latency of " + m.selected + " (tab to switch)"))
	}
	sb.WriteString("\n\n")

	for _, name := range m.names() {
		sb.WriteString(renderHealth(name, m.health[name], m.status[name]))
		sb.WriteString("\n")
	}
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20))
	logLines := statusStyle.Render("Press 'q' to quit")
	if len(m.logs) > 0 {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")
	return sb.String()
}

func renderHealth(name string, h supervisor.Health, s uhn.StatusSnapshot) string {
	state := badStyle.Render(strings.ToUpper(h.State))
	if h.Connected {
		state = okStyle.Render("CONNECTED")
	}
	indicator := "-"
	if h.Indicator != nil {
		indicator = "LOW"
		if *h.Indicator {
			indicator = "HIGH"
		}
	}
	line := fmt.Sprintf("%-12s %s  id %d  %s  attempts %d/%d  DO%d %s",
		name, state, h.DeviceID, h.ModbusStatus, h.ReconnectAttempts, h.MaxAttempts, h.IndicatorChannel, indicator)
	for _, e := range s.Entries {
		if e.Name == "clampPositionFeedback" || e.Name == "rotationAngleFeedback" {
			line += fmt.Sprintf("  %s=%v", strings.TrimSuffix(e.Name, "Feedback"), e.Value)
		}
	}
	return line
}

// route turns uhn/<name>/gripper/<kind> messages into tea messages.
func route(incoming chan<- tea.Msg) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		parts := strings.Split(msg.Topic(), "/")
		if len(parts) < 4 {
			return
		}
		name, kind := parts[1], strings.Join(parts[3:], "/")
		switch kind {
		case "health":
			var h supervisor.Health
			if err := json.Unmarshal(msg.Payload(), &h); err != nil {
				incoming <- logMsg(fmt.Sprintf("%s: bad health payload: %v", name, err))
				return
			}
			incoming <- healthMsg{gripper: name, health: h}
		case "status":
			var s uhn.StatusSnapshot
			if err := json.Unmarshal(msg.Payload(), &s); err == nil {
				incoming <- statusMsg{gripper: name, status: s}
			}
		case "cmd/result":
			var r uhn.CommandResult
			if err := json.Unmarshal(msg.Payload(), &r); err == nil {
				mark := "ok"
				if !r.Success {
					mark = "FAILED"
				}
				incoming <- logMsg(fmt.Sprintf("%s: %s %s: %s", name, r.Action, mark, r.Message))
			}
		}
	}
}

func main() {
	_ = godotenv.Load()
	var broker, topic string
	flag.StringVar(&broker, "broker", "tcp://localhost:1883", "MQTT broker address")
	flag.StringVar(&topic, "topic", "uhn/+/gripper/#", "MQTT topic filter")
	flag.Parse()
	if v := os.Getenv("MQTT_URL"); v != "" && !isFlagSet("broker") {
		broker = v
	}

	incoming := make(chan tea.Msg, 64)
	opts := paho.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(fmt.Sprintf("gripper-monitor-%d", time.Now().UnixNano()))
	opts.SetAutoReconnect(true)
	opts.SetDefaultPublishHandler(route(incoming))

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatal(token.Error())
	}
	defer client.Disconnect(200)
	if token := client.Subscribe(topic, 0, nil); token.Wait() && token.Error() != nil {
		log.Fatal(token.Error())
	}

	p := tea.NewProgram(initialModel(incoming), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
