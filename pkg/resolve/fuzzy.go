package resolve

import (
	"sort"
	"strings"

	"chatmon/pkg/models"
)

// Scoring defaults. Threshold and bonus are configurable; these apply when
// the config leaves them zero.
const (
	DefaultThreshold      = 80
	DefaultMaxSuggestions = 5
	DefaultSubstringBonus = 15
)

// Resolver scores free-text queries against identities. Zero fields fall
// back to the package defaults.
type Resolver struct {
	Threshold      int
	MaxSuggestions int
	SubstringBonus int
}

func (r Resolver) threshold() int {
	if r.Threshold > 0 {
		return r.Threshold
	}
	return DefaultThreshold
}

func (r Resolver) maxSuggestions() int {
	if r.MaxSuggestions > 0 {
		return r.MaxSuggestions
	}
	return DefaultMaxSuggestions
}

func (r Resolver) bonus() int {
	if r.SubstringBonus > 0 {
		return r.SubstringBonus
	}
	return DefaultSubstringBonus
}

// Ranked is the outcome of one resolution attempt. Candidates is the
// presentation list (descending score, stable ties, truncated); Confident
// holds the entries at or above the threshold.
type Ranked struct {
	Query      string
	Candidates []models.Candidate
	Confident  []models.Candidate
}

// Score rates how well query matches one identity, in [0,100]. The best
// contiguous-block similarity across the identity's textual fields is
// scaled to 100, with a fixed bonus when the query appears verbatim in a
// field.
func (r Resolver) Score(query string, id models.Identity) int {
	q := normalize(query)
	if q == "" {
		return 0
	}
	best := 0.0
	contains := false
	for _, field := range []string{id.DisplayName, id.ContactAddress, id.Handle} {
		f := normalize(field)
		if f == "" {
			continue
		}
		if s := similarity(q, f); s > best {
			best = s
		}
		if strings.Contains(f, q) {
			contains = true
		}
	}
	score := int(best * 100)
	if contains {
		score += r.bonus()
	}
	if score > 100 {
		score = 100
	}
	return score
}

// Resolve scores the whole directory and splits out the confident set.
// Empty query or directory yields an empty result.
func (r Resolver) Resolve(query string, ids []models.Identity) Ranked {
	out := Ranked{Query: query}
	if normalize(query) == "" || len(ids) == 0 {
		return out
	}
	var all []models.Candidate
	for _, id := range ids {
		if !id.Enabled {
			continue
		}
		if s := r.Score(query, id); s > 0 {
			all = append(all, models.Candidate{Identity: id, Score: s})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })

	for _, c := range all {
		if c.Score >= r.threshold() {
			out.Confident = append(out.Confident, c)
		}
	}
	if max := r.maxSuggestions(); len(all) > max {
		all = all[:max]
	}
	out.Candidates = all
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// similarity is a Ratcliff/Obershelp-style ratio in [0,1]: twice the
// characters covered by recursively chosen longest common runs, over the
// combined length.
func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	m := matchingChars(a, b)
	return 2 * float64(m) / float64(len(a)+len(b))
}

// matchingChars counts characters inside the longest common run plus the
// runs found recursively on either side of it.
func matchingChars(a, b string) int {
	ai, bi, size := longestCommonRun(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchingChars(a[:ai], b[:bi])
	total += matchingChars(a[ai+size:], b[bi+size:])
	return total
}

func longestCommonRun(a, b string) (ai, bi, size int) {
	// lengths[j] tracks the run ending at a[i-1], b[j-1]
	lengths := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		prev := 0
		for j := 1; j <= len(b); j++ {
			cur := lengths[j]
			if a[i-1] == b[j-1] {
				lengths[j] = prev + 1
				if lengths[j] > size {
					size = lengths[j]
					ai = i - size
					bi = j - size
				}
			} else {
				lengths[j] = 0
			}
			prev = cur
		}
	}
	return ai, bi, size
}
