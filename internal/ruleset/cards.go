package ruleset

import (
	"math/rand"
	"slices"
)

var (
	cardRanks = []string{"a", "2", "3", "4", "5", "6", "7", "8", "9", "10", "j", "q", "k"}
	cardSuits = []string{"s", "h", "d", "c"}
)

// Card is a playing card. The zero Card is a face-down card and renders as {}.
type Card struct {
	Rank string `json:"rank,omitempty"`
	Suit string `json:"suit,omitempty"`
}

// Ordinal is 1 for an ace through 13 for a king, or 0 for an unknown card.
func (c Card) Ordinal() int {
	return slices.Index(cardRanks, c.Rank) + 1
}

// Value is the counting value: face cards count ten.
func (c Card) Value() int {
	return min(c.Ordinal(), 10)
}

func (c Card) Valid() bool {
	return c.Ordinal() > 0 && slices.Contains(cardSuits, c.Suit)
}

func (c Card) String() string {
	return c.Rank + c.Suit
}

// Deck is an ordered pile; Draw takes from the top.
type Deck []Card

// NewDeck returns the 52 cards in suit-then-rank order.
func NewDeck() Deck {
	d := make(Deck, 0, len(cardRanks)*len(cardSuits))
	for _, s := range cardSuits {
		for _, r := range cardRanks {
			d = append(d, Card{Rank: r, Suit: s})
		}
	}
	return d
}

func (d Deck) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(d), func(i, j int) { d[i], d[j] = d[j], d[i] })
}

// Draw removes and returns the top card. It panics on an empty deck; a
// cribbage hand never uses more than 13 cards.
func (d *Deck) Draw() Card {
	c := (*d)[0]
	*d = (*d)[1:]
	return c
}

func sortCards(cards []Card) {
	slices.SortFunc(cards, func(a, b Card) int {
		if a.Ordinal() != b.Ordinal() {
			return a.Ordinal() - b.Ordinal()
		}
		return slices.Index(cardSuits, a.Suit) - slices.Index(cardSuits, b.Suit)
	})
}

// removeCards returns hand without the given cards, or false if one is missing
// or listed twice.
func removeCards(hand []Card, cards ...Card) ([]Card, bool) {
	out := slices.Clone(hand)
	for _, c := range cards {
		i := slices.Index(out, c)
		if i < 0 {
			return hand, false
		}
		out = slices.Delete(out, i, i+1)
	}
	return out, true
}

func hideCards(cards []Card) []Card {
	if cards == nil {
		return nil
	}
	return make([]Card, len(cards))
}
