package ruleset

import "fmt"

// ScoreEntry is one line of the cribbage score log.
type ScoreEntry struct {
	Seat   int    `json:"seat"`
	Points int    `json:"points"`
	Reason string `json:"reason"`
}

type scoreItem struct {
	points int
	reason string
}

// pegPlay scores the card just laid on the pile in the fixed order: fifteen,
// same-rank run, ascending run. cards is the pile since the last count reset.
func pegPlay(cards []Card, count int) []scoreItem {
	var items []scoreItem
	if count == 15 {
		items = append(items, scoreItem{2, "15 for 2"})
	}

	same := 1
	last := cards[len(cards)-1]
	for i := len(cards) - 2; i >= 0 && cards[i].Ordinal() == last.Ordinal(); i-- {
		same++
	}
	switch same {
	case 2:
		items = append(items, scoreItem{2, "pair for 2"})
	case 3:
		items = append(items, scoreItem{6, "three of a kind for 6"})
	case 4:
		items = append(items, scoreItem{12, "four of a kind for 12"})
	}

	if n := longestRun(cards); n >= 3 {
		items = append(items, scoreItem{n, fmt.Sprintf("run of %d for %d", n, n)})
	}
	return items
}

// longestRun is the largest k >= 3 such that the last k cards are distinct
// consecutive ranks in any order, or 0.
func longestRun(cards []Card) int {
	best := 0
	for k := 3; k <= len(cards); k++ {
		tail := cards[len(cards)-k:]
		seen := map[int]bool{}
		lo, hi := 14, 0
		ok := true
		for _, c := range tail {
			o := c.Ordinal()
			if seen[o] {
				ok = false
				break
			}
			seen[o] = true
			lo, hi = min(lo, o), max(hi, o)
		}
		if ok && hi-lo == k-1 {
			best = k
		}
	}
	return best
}

// countHand scores four cards plus the starter. A crib only scores a flush
// when all five cards share a suit.
func countHand(hand []Card, starter Card, crib bool) []scoreItem {
	all := append(append([]Card(nil), hand...), starter)
	var items []scoreItem

	fifteens := 0
	for mask := 1; mask < 1<<len(all); mask++ {
		sum := 0
		for i, c := range all {
			if mask&(1<<i) != 0 {
				sum += c.Value()
			}
		}
		if sum == 15 {
			fifteens++
		}
	}
	if fifteens > 0 {
		items = append(items, scoreItem{fifteens * 2, fmt.Sprintf("%d fifteens for %d", fifteens, fifteens*2)})
	}

	pairs := 0
	for i := range all {
		for j := i + 1; j < len(all); j++ {
			if all[i].Ordinal() == all[j].Ordinal() {
				pairs++
			}
		}
	}
	if pairs > 0 {
		items = append(items, scoreItem{pairs * 2, fmt.Sprintf("%d pairs for %d", pairs, pairs*2)})
	}

	if pts := handRuns(all); pts > 0 {
		items = append(items, scoreItem{pts, fmt.Sprintf("runs for %d", pts)})
	}

	flush := true
	for _, c := range hand[1:] {
		if c.Suit != hand[0].Suit {
			flush = false
			break
		}
	}
	switch {
	case flush && starter.Suit == hand[0].Suit:
		items = append(items, scoreItem{5, "flush for 5"})
	case flush && !crib:
		items = append(items, scoreItem{4, "flush for 4"})
	}

	for _, c := range hand {
		if c.Rank == "j" && c.Suit == starter.Suit {
			items = append(items, scoreItem{1, "nobs for 1"})
			break
		}
	}
	return items
}

// handRuns scores every maximal run of three or more ranks, counting each
// duplicated rank as a separate run.
func handRuns(cards []Card) int {
	var counts [15]int
	for _, c := range cards {
		counts[c.Ordinal()]++
	}
	total := 0
	for start := 1; start <= 13; {
		if counts[start] == 0 {
			start++
			continue
		}
		end, mult := start, 1
		for end <= 13 && counts[end] > 0 {
			mult *= counts[end]
			end++
		}
		if n := end - start; n >= 3 {
			total += n * mult
		}
		start = end
	}
	return total
}
