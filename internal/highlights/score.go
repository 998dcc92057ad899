package highlights

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
)

// Score weights.
const (
	magnitudeWeight = 0.7
	rarityWeight    = 0.3
	keywordBonus    = 0.15
	donationBonus   = 0.25
)

// Breakdown is a scored candidate. Magnitude is nil when the candidate carried neither an
// impact nor a sentiment.
type Breakdown struct {
	Magnitude *float64 `json:"magnitude,omitempty"`
	Rarity    float64  `json:"rarity"`
	Keyword   string   `json:"keyword,omitempty"`
	Donation  bool     `json:"donation"`
	Score     float64  `json:"score"`
}

// Magnitude is max(|impact|, |sentiment|) over the known values of c.
func Magnitude(c models.HighlightCandidate) (float64, bool) {
	m, ok := 0.0, false
	if c.Impact != nil {
		m, ok = math.Abs(*c.Impact), true
	}
	if c.Sentiment != nil {
		if s := math.Abs(*c.Sentiment); !ok || s > m {
			m, ok = s, true
		}
	}
	return math.Min(m, 1), ok
}

// Rarity maps the z-score of magnitude against the baseline onto [0, 1]; 0.5 is
// ordinary. Below minSamples, or with no spread, the baseline says nothing.
func Rarity(magnitude float64, b Baseline, minSamples int) float64 {
	if b.N < minSamples || b.N < 2 || b.Std == 0 {
		return 0.5
	}
	z := (magnitude - b.Mean) / b.Std
	return clamp(0.5 + z/4)
}

// Score computes the deterministic significance of c:
//
//	clamp(0.7*magnitude + 0.3*rarity + keyword + donation)
//
// keyword adds 0.15 when the text or type names one of cfg.Keywords and donation adds
// 0.25 for a donation of at least cfg.DonationTrigger.
func Score(c models.HighlightCandidate, b Baseline, cfg Config) Breakdown {
	var out Breakdown
	m, known := Magnitude(c)
	if known {
		out.Magnitude = &m
		out.Rarity = Rarity(m, b, cfg.MinSamples)
	} else {
		out.Rarity = 0.5
	}
	out.Keyword = matchKeyword(c, cfg.Keywords)
	out.Donation = isDonation(c, cfg.DonationTrigger)

	score := magnitudeWeight*m + rarityWeight*out.Rarity
	if out.Keyword != "" {
		score += keywordBonus
	}
	if out.Donation {
		score += donationBonus
	}
	out.Score = clamp(score)
	return out
}

func matchKeyword(c models.HighlightCandidate, keywords []string) string {
	text := strings.ToLower(c.Text + " " + strings.ReplaceAll(c.Type, "_", " "))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(text, k) {
			return k
		}
	}
	return ""
}

func isDonation(c models.HighlightCandidate, trigger float64) bool {
	if c.Type != "donation" {
		return false
	}
	amount, ok := candidateAmount(c)
	return ok && amount >= trigger
}

func candidateAmount(c models.HighlightCandidate) (float64, bool) {
	if c.Amount != nil {
		return *c.Amount, true
	}
	return c.Data.Get("amount").AsNumber()
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Classify picks the highlight type of a candidate that made the cut.
func Classify(c models.HighlightCandidate, score float64) string {
	t := strings.ToLower(c.Type)
	if c.Source == models.SourceInteraction {
		switch {
		case t == "donation" || t == "subscription" || t == "follow" || t == "raid":
			return "viewer_milestone"
		case c.Sentiment != nil && math.Abs(*c.Sentiment) >= 0.8:
			return "emotional_moment"
		case strings.Contains(strings.ToLower(c.Text), "lol") || strings.Contains(strings.ToLower(c.Text), "haha"):
			return "funny_moment"
		default:
			return "community_moment"
		}
	}
	switch {
	case strings.Contains(t, "achievement"):
		return "achievement"
	case strings.Contains(t, "boss") || strings.Contains(t, "victory"):
		return "epic_moment"
	case strings.Contains(t, "funny") || strings.Contains(strings.ToLower(c.Data.Text()), "laugh"):
		return "funny_moment"
	case strings.Contains(t, "viewer") || strings.Contains(t, "community"):
		return "community_moment"
	case strings.Contains(t, "emotional"):
		return "emotional_moment"
	case strings.Contains(t, "progress"):
		return "game_progress"
	case score >= 0.9:
		return "high_engagement"
	default:
		return "epic_moment"
	}
}

// Describe builds the human readable description of a highlight.
func Describe(c models.HighlightCandidate) string {
	desc := titleCase(c.Type)
	if c.Source == models.SourceInteraction {
		switch {
		case c.Type == "donation":
			if amount, ok := candidateAmount(c); ok {
				return desc + " from " + c.Username + ": " + trimFloat(amount)
			}
			return desc + " from " + c.Username
		case c.Text != "":
			return desc + " from " + c.Username + ": " + truncate(c.Text, 140)
		default:
			return desc + " from " + c.Username
		}
	}
	switch {
	case c.Data.Has("achievement"):
		desc += ": Achieved " + c.Data.Get("achievement").Text()
	case c.Data.Has("boss"):
		desc += ": Defeated " + c.Data.Get("boss").Text()
	case c.Data.Has("milestone"):
		desc += ": " + c.Data.Get("milestone").Text()
	}
	if c.Category != "" {
		desc += " during " + c.Category
	}
	return desc
}

// titleCase turns a snake_case type into words. A Caser keeps state, so each call gets its own.
func titleCase(s string) string {
	words := strings.Join(strings.Fields(strings.ReplaceAll(s, "_", " ")), " ")
	return cases.Title(language.Und).String(words)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func trimFloat(f float64) string {
	return strings.TrimSuffix(strings.TrimRight(strconv.FormatFloat(f, 'f', 2, 64), "0"), ".")
}
