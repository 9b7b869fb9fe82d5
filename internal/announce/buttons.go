package announce

import (
	"sort"
	"strconv"
	"strings"

	"animecast/internal/transport"
)

// nonNumericRank sorts labels without a leading number after every real
// resolution.
const nonNumericRank = 1 << 30

// sortButtons orders buttons by numeric resolution ascending ("360p" before
// "1080p"). Non-numeric labels keep their relative order and go last.
func sortButtons(buttons []transport.Button) {
	sort.SliceStable(buttons, func(i, j int) bool {
		return labelRank(buttons[i].Label) < labelRank(buttons[j].Label)
	})
}

func labelRank(label string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(label, "p"))
	if err != nil {
		return nonNumericRank
	}
	return n
}

// chunkRows lays a flat button sequence out into rows of at most width
// buttons. The original layout appended to one ever-growing row; wrapping
// keeps posts with many variants renderable.
func chunkRows(buttons []transport.Button, width int) [][]transport.Button {
	if width <= 0 {
		width = defaultRowWidth
	}
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]transport.Button, 0, (len(buttons)+width-1)/width)
	for start := 0; start < len(buttons); start += width {
		end := start + width
		if end > len(buttons) {
			end = len(buttons)
		}
		rows = append(rows, buttons[start:end])
	}
	return rows
}

func flatten(rows [][]transport.Button) []transport.Button {
	var out []transport.Button
	for _, row := range rows {
		out = append(out, row...)
	}
	return out
}

func hasLabel(buttons []transport.Button, label string) bool {
	for _, b := range buttons {
		if b.Label == label {
			return true
		}
	}
	return false
}
