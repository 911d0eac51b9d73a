package selfplay

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/brensch/twenty48/game"
)

var (
	cellStyle  = lipgloss.NewStyle().Width(6).Align(lipgloss.Right).Bold(true)
	emptyStyle = cellStyle.Foreground(lipgloss.Color("240"))

	// Indexed by rank; higher ranks reuse the last colour.
	rankColors = []lipgloss.Color{"240", "252", "229", "215", "209", "203", "196", "227", "226", "220", "214", "208", "51", "45", "39", "33"}
)

// RenderBoard draws the board with a colour per tile rank.
func RenderBoard(b game.Board) string {
	lines := make([]string, 0, game.Size)
	for r := 0; r < game.Size; r++ {
		cells := make([]string, 0, game.Size)
		for c := 0; c < game.Size; c++ {
			rank := b.Cell(r, c)
			if rank == 0 {
				cells = append(cells, emptyStyle.Render("."))
				continue
			}
			color := rankColors[min(rank, len(rankColors)-1)]
			cells = append(cells, cellStyle.Foreground(color).Render(strconv.Itoa(1<<rank)))
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return strings.Join(lines, "\n")
}
