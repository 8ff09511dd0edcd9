package matcher

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/hbollon/go-edlib"

	"github.com/cesargomez89/audiosource/internal/domain"
)

const (
	weightTitle  = 50
	weightArtist = 30
	weightYear   = 12
	weightTracks = 8
)

// Local describes the album being matched: a scanned folder or a query.
// Zero Year or TrackCount means unknown.
type Local struct {
	Title      string
	Artist     string
	Year       int
	TrackCount int
}

// Similarity returns the Levenshtein similarity of the normalized forms of
// a and b, in [0,1]: one minus the edit distance over the longer length.
// Two empty strings are identical.
func Similarity(a, b string) float64 {
	a, b = Normalize(a), Normalize(b)
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	sim, err := edlib.StringsSimilarity(a, b, edlib.Levenshtein)
	if err != nil {
		return 0
	}
	return float64(sim)
}

// Score rates how well c corresponds to local, from 0 to 100. It is a
// pure function of its inputs.
func Score(local Local, c domain.MatchCandidate) int {
	total := weightTitle*Similarity(local.Title, c.Title) +
		weightArtist*Similarity(local.Artist, c.Artist) +
		yearPoints(local.Year, Year(c.ReleaseDate)) +
		trackPoints(local.TrackCount, c.TrackCount)

	score := int(math.Round(total))
	return max(0, min(100, score))
}

func yearPoints(local, candidate int) float64 {
	switch {
	case local == 0 && candidate == 0:
		return weightYear
	case local == 0 || candidate == 0:
		return weightYear / 2
	}
	switch diff := abs(local - candidate); {
	case diff == 0:
		return weightYear
	case diff == 1:
		return weightYear / 2
	default:
		return 0
	}
}

func trackPoints(local, candidate int) float64 {
	switch {
	case local == 0 && candidate == 0:
		return weightTracks
	case local == 0 || candidate == 0:
		return weightTracks / 2
	}
	switch diff := abs(local - candidate); {
	case diff == 0:
		return weightTracks
	case diff == 1:
		return 5
	case diff == 2:
		return 2
	default:
		return 0
	}
}

// Year extracts the year from a "YYYY", "YYYY-MM" or "YYYY-MM-DD" date.
func Year(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// completeness counts the descriptive fields a candidate carries.
func completeness(c domain.MatchCandidate) int {
	n := 0
	for _, s := range []string{c.MusicBrainzID, c.Title, c.Artist, c.ReleaseDate, c.ReleaseType, c.Country, c.CoverArtURL} {
		if s != "" {
			n++
		}
	}
	if c.TrackCount > 0 {
		n++
	}
	return n
}

// Rank scores every candidate and returns the best n, highest first.
// Ties prefer the more complete candidate, then the higher catalog score,
// then input order. n <= 0 returns all of them.
func Rank(local Local, candidates []domain.MatchCandidate, n int) []domain.MatchCandidate {
	ranked := make([]domain.MatchCandidate, len(candidates))
	copy(ranked, candidates)
	for i := range ranked {
		ranked[i].MatchScore = Score(local, ranked[i])
	}
	return sortRanked(ranked, n)
}

// Best returns the top candidate when it reaches threshold.
func Best(local Local, candidates []domain.MatchCandidate, threshold int) (*domain.MatchCandidate, bool) {
	ranked := Rank(local, candidates, 1)
	if len(ranked) == 0 || ranked[0].MatchScore < threshold {
		return nil, false
	}
	return &ranked[0], true
}

// QueryLocal turns free search text into a Local. "Artist - Title" is split
// into both fields; anything else is taken as a title.
func QueryLocal(q string) Local {
	q = strings.TrimSpace(q)
	if artist, title, ok := strings.Cut(q, " - "); ok && strings.TrimSpace(title) != "" {
		return Local{Artist: strings.TrimSpace(artist), Title: strings.TrimSpace(title)}
	}
	return Local{Title: q}
}

// RankQuery orders catalog search results by title similarity to q, or by
// the full score when q names an artist too.
func RankQuery(q string, candidates []domain.MatchCandidate, n int) []domain.MatchCandidate {
	local := QueryLocal(q)
	if local.Artist != "" {
		return Rank(local, candidates, n)
	}

	ranked := make([]domain.MatchCandidate, len(candidates))
	copy(ranked, candidates)
	for i := range ranked {
		ranked[i].MatchScore = int(math.Round(100 * Similarity(local.Title, ranked[i].Title)))
	}
	return sortRanked(ranked, n)
}

func sortRanked(ranked []domain.MatchCandidate, n int) []domain.MatchCandidate {
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.MatchScore != b.MatchScore {
			return a.MatchScore > b.MatchScore
		}
		if ca, cb := completeness(a), completeness(b); ca != cb {
			return ca > cb
		}
		return a.ExtScore > b.ExtScore
	})
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
