package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/brensch/twenty48/config"
	"github.com/brensch/twenty48/executor/selfplay"
	"github.com/brensch/twenty48/game"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	labelStyle = lipgloss.NewStyle().Width(14).Foreground(lipgloss.Color("245"))
	valueStyle = lipgloss.NewStyle().Bold(true)
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	hintStyle  = lipgloss.NewStyle().Faint(true)
)

type tickMsg time.Time

type doneMsg struct{}

type model struct {
	cfg       config.Engine
	updates   <-chan selfplay.GameResult
	startTime time.Time

	games     int
	moves     int64
	bestScore int
	maxTiles  map[int]int
	recent    []selfplay.GameResult
	board     game.Board
}

func newModel(updates <-chan selfplay.GameResult, cfg config.Engine) model {
	return model{
		cfg:       cfg,
		updates:   updates,
		startTime: time.Now(),
		maxTiles:  map[int]int{},
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForUpdate(updates <-chan selfplay.GameResult) tea.Cmd {
	return func() tea.Msg {
		res, ok := <-updates
		if !ok {
			return doneMsg{}
		}
		return res
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tickMsg:
		m.moves = totalMoves.Load()
		m.board = game.Board(lastBoard.Load())
		return m, tickCmd()
	case selfplay.GameResult:
		m.games++
		m.bestScore = max(m.bestScore, msg.Score)
		m.maxTiles[msg.MaxTile]++
		m.recent = append([]selfplay.GameResult{msg}, m.recent...)
		if len(m.recent) > 8 {
			m.recent = m.recent[:8]
		}
		return m, waitForUpdate(m.updates)
	case doneMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	elapsed := time.Since(m.startTime)
	movesPerSec := 0.0
	if elapsed >= time.Second {
		movesPerSec = float64(m.moves) / elapsed.Seconds()
	}

	row := func(label, value string) string {
		return labelStyle.Render(label) + valueStyle.Render(value)
	}
	stats := strings.Join([]string{
		row("Engine", fmt.Sprintf("%s (%s)", m.cfg.Kind, m.cfg.Budget())),
		row("Games", fmt.Sprint(m.games)),
		row("Moves", fmt.Sprint(m.moves)),
		row("Moves/sec", fmt.Sprintf("%.1f", movesPerSec)),
		row("Best score", fmt.Sprint(m.bestScore)),
		row("Duration", elapsed.Round(time.Second).String()),
	}, "\n")

	tiles := make([]int, 0, len(m.maxTiles))
	for t := range m.maxTiles {
		tiles = append(tiles, t)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(tiles)))
	var hist strings.Builder
	for _, t := range tiles {
		share := float64(m.maxTiles[t]) / float64(max(m.games, 1))
		fmt.Fprintf(&hist, "%6d %5.1f%% %s\n", t, 100*share, strings.Repeat("#", int(share*30)))
	}

	var recent strings.Builder
	for _, g := range m.recent {
		fmt.Fprintf(&recent, "%.8s  score %7d  tile %5d  moves %5d\n", g.GameID, g.Score, g.MaxTile, g.Moves)
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		panelStyle.Render(stats),
		panelStyle.Render("Max tile\n"+strings.TrimRight(hist.String(), "\n")),
		panelStyle.Render(selfplay.RenderBoard(m.board)),
	)
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("twenty48 self-play"),
		body,
		panelStyle.Render("Recent games\n"+strings.TrimRight(recent.String(), "\n")),
		hintStyle.Render("Press q to stop; unfinished games are checkpointed."),
	)
}
