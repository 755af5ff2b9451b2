package ruleset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func card(s string) Card {
	return Card{Rank: s[:len(s)-1], Suit: s[len(s)-1:]}
}

func cards(ss ...string) []Card {
	out := make([]Card, 0, len(ss))
	for _, s := range ss {
		out = append(out, card(s))
	}
	return out
}

func played(entries ...any) []PlayedCard {
	var out []PlayedCard
	for i := 0; i < len(entries); i += 2 {
		p := PlayedCard{Seat: entries[i].(int)}
		if s := entries[i+1].(string); s != "" {
			c := card(s)
			p.Card = &c
		}
		out = append(out, p)
	}
	return out
}

func playCard(s string) map[string]Card { return map[string]Card{"card": card(s)} }

func totalPoints(items []scoreItem) int {
	n := 0
	for _, it := range items {
		n += it.points
	}
	return n
}

// pegging returns a play-stage state with seat 0 dealing.
func pegging(t *testing.T, r Ruleset, mutate func(d *CribbageData)) State {
	t.Helper()
	st := started(t, r, Settings{Game: NameCribbage, Target: 121})
	starter := card("10c")
	d := &CribbageData{
		Stage:         stagePlay,
		Target:        121,
		Dealer:        0,
		FirstDealer:   0,
		CribSubmitted: [2]bool{true, true},
		Starter:       &starter,
		Kept:          [2][]Card{cards("ah", "3h", "6s", "8d"), cards("kh", "2c", "4d", "7s")},
		Crib:          cards("as", "3s", "6d", "8c"),
	}
	mutate(d)
	st.Data = d
	return st
}

func TestCribbageFifteenForTwo(t *testing.T) {
	r := newRules(t, NameCribbage)
	st := pegging(t, r, func(d *CribbageData) {
		d.Played = played(0, "10h")
		d.Count = 10
		d.Turn = 1
		d.Hands = [2][]Card{cards("2c", "3c"), cards("5s", "ks")}
	})

	st, err := r.ApplyMove(st, 1, raw(playCard("5s")))
	require.NoError(t, err)
	d := st.Data.(*CribbageData)
	assert.Equal(t, 15, d.Count)
	require.NotEmpty(t, d.Scoring)
	assert.Equal(t, ScoreEntry{Seat: 1, Points: 2, Reason: "15 for 2"}, d.Scoring[len(d.Scoring)-1])
	assert.Equal(t, 2, st.Players[1].Score)
	assert.Equal(t, 0, d.Turn)
}

func TestCribbageThirtyOneBeatsLastCard(t *testing.T) {
	r := newRules(t, NameCribbage)
	st := pegging(t, r, func(d *CribbageData) {
		d.Played = played(1, "kh", 0, "9d", 1, "2c")
		d.Count = 21
		d.Turn = 0
		d.Hands = [2][]Card{cards("qs"), nil}
	})

	st, err := r.ApplyMove(st, 0, raw(playCard("qs")))
	require.NoError(t, err)
	d := st.Data.(*CribbageData)

	var pegged []string
	for _, e := range d.Scoring {
		if e.Seat == 0 && !strings.Contains(e.Reason, ": ") {
			pegged = append(pegged, e.Reason)
		}
	}
	assert.Equal(t, []string{"31 for 2"}, pegged)

	// the hand was counted and the deal passed on
	require.NotNil(t, d.Counted)
	assert.Equal(t, cards("as", "3s", "6d", "8c"), d.Counted.Crib)
	assert.Equal(t, 1, d.Dealer)
	assert.Equal(t, stageCrib, d.Stage)
	assert.Equal(t, 1, d.HandsCompleted)
	assert.Len(t, d.Hands[0], 6)
	assert.Len(t, d.Hands[1], 6)
}

func TestCribbageLastCard(t *testing.T) {
	r := newRules(t, NameCribbage)
	st := pegging(t, r, func(d *CribbageData) {
		d.Played = played(1, "kh", 0, "9d", 1, "ac")
		d.Count = 20
		d.Turn = 0
		d.Hands = [2][]Card{cards("qs"), nil}
	})
	st, err := r.ApplyMove(st, 0, raw(playCard("qs")))
	require.NoError(t, err)
	d := st.Data.(*CribbageData)
	assert.Contains(t, d.Scoring, ScoreEntry{Seat: 0, Points: 1, Reason: "last card for 1"})
}

func TestCribbageGoForOne(t *testing.T) {
	r := newRules(t, NameCribbage)
	st := pegging(t, r, func(d *CribbageData) {
		d.Played = played(1, "kh", 0, "qd", 1, "9s")
		d.Count = 29
		d.Turn = 0
		d.Hands = [2][]Card{cards("ah", "5c"), cards("8h")}
	})

	st, err := r.ApplyMove(st, 0, raw(playCard("ah")))
	require.NoError(t, err)
	d := st.Data.(*CribbageData)
	assert.Equal(t, ScoreEntry{Seat: 0, Points: 1, Reason: "go for 1"}, d.Scoring[len(d.Scoring)-1])
	assert.Equal(t, 1, st.Players[0].Score)
	assert.Zero(t, d.Count)
	assert.Equal(t, 1, d.Turn)
	n := len(d.Played)
	assert.Nil(t, d.Played[n-1].Card)
	assert.Nil(t, d.Played[n-2].Card)

	st, err = r.ApplyMove(st, 1, raw(playCard("8h")))
	require.NoError(t, err)
	assert.Equal(t, 0, st.Data.(*CribbageData).Turn)
}

func TestCribbageRejectsOverThirtyOne(t *testing.T) {
	r := newRules(t, NameCribbage)
	st := pegging(t, r, func(d *CribbageData) {
		d.Played = played(1, "kh", 0, "qd", 1, "2h")
		d.Count = 22
		d.Turn = 0
		d.Hands = [2][]Card{cards("ks", "ac"), cards("5c")}
	})
	before := st.Clone()
	_, err := r.ApplyMove(st, 0, raw(playCard("ks")))
	assert.True(t, IsIllegal(err))
	_, err = r.ApplyMove(st, 0, raw(playCard("2d")))
	assert.True(t, IsIllegal(err))
	_, err = r.ApplyMove(st, 1, raw(playCard("5c")))
	assert.ErrorIs(t, err, ErrNotYourTurn)
	assert.Equal(t, before, st)
}

func TestCribbageReachingTargetEnds(t *testing.T) {
	r := newRules(t, NameCribbage)
	st := pegging(t, r, func(d *CribbageData) {
		d.Played = played(0, "10h")
		d.Count = 10
		d.Turn = 1
		d.Hands = [2][]Card{cards("2c"), cards("5s", "3d")}
	})
	st.Players[1].Score = 120
	st, err := r.ApplyMove(st, 1, raw(playCard("5s")))
	require.NoError(t, err)
	term := r.CheckTerminal(st)
	assert.True(t, term.Ended)
	assert.Equal(t, 1, term.Winner)
	assert.Equal(t, "target reached", term.Reason)
	assert.Equal(t, 122, st.Players[1].Score)
}

func TestCribbageDealAndDiscard(t *testing.T) {
	r := newRules(t, NameCribbage)
	st := started(t, r, Settings{Game: NameCribbage, Target: 61})
	d := st.Data.(*CribbageData)

	require.Len(t, d.Draw, 2)
	assert.NotEqual(t, d.Draw[0].Ordinal(), d.Draw[1].Ordinal())
	low := 0
	if d.Draw[1].Ordinal() < d.Draw[0].Ordinal() {
		low = 1
	}
	assert.Equal(t, low, d.Dealer)
	pone := 1 - d.Dealer

	assert.Len(t, d.Hands[0], 6)
	assert.Len(t, d.Hands[1], 6)
	assert.True(t, r.CanMove(st, 0))
	assert.True(t, r.CanMove(st, 1))
	assert.Equal(t, pone, r.Turn(st))

	_, err := r.ApplyMove(st, d.Dealer, raw(map[string][]Card{"cards": d.Hands[pone][:2]}))
	assert.True(t, IsIllegal(err))
	_, err = r.ApplyMove(st, d.Dealer, raw(map[string][]Card{"cards": d.Hands[d.Dealer][:1]}))
	assert.True(t, IsValidation(err))

	st, err = r.ApplyMove(st, d.Dealer, raw(map[string][]Card{"cards": d.Hands[d.Dealer][:2]}))
	require.NoError(t, err)
	assert.False(t, r.CanMove(st, d.Dealer))
	assert.Equal(t, pone, r.Turn(st))

	st, err = r.ApplyMove(st, pone, raw(map[string][]Card{"cards": d.Hands[pone][4:]}))
	require.NoError(t, err)
	after := st.Data.(*CribbageData)
	assert.Equal(t, stagePlay, after.Stage)
	require.NotNil(t, after.Starter)
	assert.Len(t, after.Crib, 4)
	assert.Len(t, after.Kept[0], 4)
	assert.Len(t, after.Kept[1], 4)
	assert.Equal(t, pone, r.Turn(st))
	assert.Equal(t, 2, st.TurnsCompleted)
}

func TestCribbageSanitize(t *testing.T) {
	r := newRules(t, NameCribbage)
	st := started(t, r, Settings{Game: NameCribbage, Target: 121})
	d := st.Data.(*CribbageData)

	view := r.SanitizeForViewer(st, 0)
	vd := view.Data.(*CribbageData)
	assert.Equal(t, d.Hands[0], vd.Hands[0])
	assert.Equal(t, make([]Card, 6), vd.Hands[1])
	assert.Nil(t, vd.Deck)
	assert.NotEmpty(t, d.Deck, "the original is untouched")

	hidden := r.SanitizeForViewer(st, -1)
	assert.Equal(t, make([]Card, 6), hidden.Data.(*CribbageData).Hands[0])
}

func TestCribbageRematchRotatesDealer(t *testing.T) {
	r := newRules(t, NameCribbage)
	st := started(t, r, Settings{Game: NameCribbage, Target: 61})
	first := st.Data.(*CribbageData).Dealer
	st.Players[0].Score = 40
	st = EndWith(st, 0, "target reached")

	next := r.Begin(r.PrepareRematch(st))
	assert.Equal(t, 1-first, next.Data.(*CribbageData).Dealer)
	assert.Zero(t, next.Players[0].Score)
	assert.Empty(t, next.Data.(*CribbageData).Draw)
}

func TestPegPlayScoring(t *testing.T) {
	assert.Equal(t, []scoreItem{{2, "pair for 2"}}, pegPlay(cards("5h", "5s"), 10))
	assert.Equal(t, []scoreItem{{2, "15 for 2"}, {6, "three of a kind for 6"}}, pegPlay(cards("5h", "5s", "5d"), 15))
	assert.Equal(t, []scoreItem{{12, "four of a kind for 12"}}, pegPlay(cards("2h", "2s", "2d", "2c"), 8))
	assert.Equal(t, []scoreItem{{3, "run of 3 for 3"}}, pegPlay(cards("3h", "5s", "4d"), 12))
	assert.Equal(t, []scoreItem{{4, "run of 4 for 4"}}, pegPlay(cards("9h", "3h", "5s", "4d", "6c"), 27))
	assert.Empty(t, pegPlay(cards("3h", "5s", "5d", "4c"), 17))
}

func TestCountHand(t *testing.T) {
	assert.Equal(t, 29, totalPoints(countHand(cards("5h", "5d", "5c", "js"), card("5s"), false)))
	assert.Equal(t, 4, totalPoints(countHand(cards("2h", "4h", "6h", "8h"), card("ks"), false)))
	assert.Equal(t, 0, totalPoints(countHand(cards("2h", "4h", "6h", "8h"), card("ks"), true)))
	assert.Equal(t, 5, totalPoints(countHand(cards("2h", "4h", "6h", "8h"), card("qh"), true)))
	assert.Equal(t, 8, handRuns(cards("3h", "4d", "5s", "5c", "6h")))
	assert.Equal(t, 0, handRuns(cards("3h", "4d", "6s", "7c", "9h")))
}
