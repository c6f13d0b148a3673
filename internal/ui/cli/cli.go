// Package cli renders images and run summaries on the terminal.
//
// Images are drawn as half-block art: each character cell carries two vertically
// stacked pixels, the foreground color painting the top one and the background
// color the bottom one. A 32x32 image therefore takes 32 columns by 16 rows.
package cli

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/trungpx/self-supervised-relational-reasoning/internal/datasets"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/generics"
)

var ansiFilter = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// displayWidth of s removes its color/control sequences and returns the number of
// runes left.
func displayWidth(s string) int {
	return len([]rune(ansiFilter.ReplaceAllString(s, "")))
}

// PrintCentered writes block to stdout, centered on the current terminal width.
func PrintCentered(block string) {
	lines := strings.Split(block, "\n")
	terminalWidth, _, _ := term.GetSize(int(os.Stdout.Fd()))
	blockWidth := 0
	for _, line := range lines {
		if w := displayWidth(line); w > blockWidth {
			blockWidth = w
		}
	}
	indent := max((terminalWidth-blockWidth)/2, 0)
	for _, line := range lines {
		if len(line) == 0 {
			fmt.Println()
			continue
		}
		fmt.Printf("%s%s\n", strings.Repeat(" ", indent), line)
	}
}

// pixelColor maps one pixel to a 24-bit terminal color. Values outside [0, 1] are
// clamped: normalized images routinely exceed the displayable range.
func pixelColor(img datasets.Image, y, x int) lipgloss.Color {
	var rgb [3]uint8
	for c := range 3 {
		channel := c
		if channel >= img.Channels {
			channel = 0 // Replicate gray.
		}
		value := generics.Clamp(img.At(y, x, channel), 0, 1)
		rgb[c] = uint8(value*255 + 0.5)
	}
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", rgb[0], rgb[1], rgb[2]))
}

// RenderImage converts img to half-block art.
func RenderImage(img datasets.Image) string {
	var sb strings.Builder
	for y := 0; y < img.Height; y += 2 {
		if y > 0 {
			sb.WriteByte('\n')
		}
		for x := range img.Width {
			style := lipgloss.NewStyle().Foreground(pixelColor(img, y, x))
			if y+1 < img.Height {
				style = style.Background(pixelColor(img, y+1, x))
			}
			sb.WriteString(style.Render("▀"))
		}
	}
	return sb.String()
}

// ViewGrid renders one example per row: its caption, then the given views of it
// side by side. Rows wider than the terminal are left to the terminal to wrap.
func ViewGrid(examples [][]datasets.Image, captions []string) string {
	rows := make([]string, 0, len(examples))
	for i, views := range examples {
		blocks := make([]string, 0, 2*len(views))
		for v, img := range views {
			if v > 0 {
				blocks = append(blocks, "  ")
			}
			blocks = append(blocks, RenderImage(img))
		}
		row := lipgloss.JoinHorizontal(lipgloss.Top, blocks...)
		if i < len(captions) && captions[i] != "" {
			row = lipgloss.JoinVertical(lipgloss.Left, captions[i], row)
		}
		rows = append(rows, row)
	}
	return strings.Join(rows, "\n\n")
}

// Summary renders aligned key/value rows under a title, inside a rounded box.
func Summary(title string, rows [][2]string) string {
	keyWidth := 0
	for _, kv := range rows {
		keyWidth = max(keyWidth, len(kv[0]))
	}
	lines := generics.SliceMap(rows, func(kv [2]string) string {
		return fmt.Sprintf("%-*s  %s", keyWidth, kv[0], kv[1])
	})
	body := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{lipgloss.NewStyle().Bold(true).Render(title)}, lines...)...)
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1).
		Render(body)
}

// Banner renders a loud completion banner.
func Banner(text string) string {
	return lipgloss.NewStyle().
		Background(lipgloss.Color("13")).
		Foreground(lipgloss.Color("0")).
		Padding(1, 2).
		Render(text)
}
