package aiscore

import (
	"context"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Cue words per profile trait, in English and Romanian (diacritics are
// stripped before matching).
var (
	vineCues      = []string{"vine", "vines", "vineyard", "viticulture", "wine", "grape", "vita", "vie", "viticol", "vitivinicol", "vin"}
	protectedCues = []string{"greenhouse", "greenhouses", "polytunnel", "protected", "sera", "sere", "solarii", "protejat"}
	livestockCues = []string{"livestock", "cattle", "dairy", "milk", "meat", "sheep", "pigs", "animal", "animals",
		"zootehnic", "zootehnie", "bovine", "ovine", "porcine", "lapte", "carne"}
	landCues = []string{"crop", "crops", "cereal", "cereals", "vegetables", "irrigation", "arable", "technology",
		"infrastructure", "sector", "vegetal", "cultura", "culturi", "cerealiere", "legume", "irigare", "bazine",
		"tehnologii", "infrastructura"}
)

// Heuristic scores text overlap between the subsidy description and cue
// words derived from the farm profile, plus bonuses for farm size and herd
// size. It needs no network and is deterministic.
type Heuristic struct{}

// Refine implements Adapter.
func (Heuristic) Refine(_ context.Context, req Request) (float64, error) {
	ds := req.Dataset
	sizeHa, _ := ds.Number("farm.size_ha")
	animals, _ := ds.Number("livestock.total_animals")

	var cues []string
	if ds.Bool("farm.has_vines") {
		cues = append(cues, vineCues...)
	}
	if ds.Bool("farm.has_protected") {
		cues = append(cues, protectedCues...)
	}
	if animals > 0 {
		cues = append(cues, livestockCues...)
	}
	if sizeHa > 0 {
		cues = append(cues, landCues...)
	}

	jac := jaccard(tokenize(req.Title+" "+req.Summary), tokenize(strings.Join(cues, " ")))
	sizeBonus := math.Min(20, sizeHa*0.5)
	herdBonus := math.Min(20, animals*0.1)

	score := math.Round(math.Min(100, 100*(0.55*jac+0.15)+sizeBonus*0.15+herdBonus*0.15))
	score = math.Max(1, math.Min(100, score))
	return score / 100, nil
}

func tokenize(s string) []string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, s)
	if err != nil {
		plain = s
	}
	return strings.FieldsFunc(strings.ToLower(plain), func(r rune) bool { return !unicode.IsLetter(r) })
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	sa := make(map[string]bool, len(a))
	for _, w := range a {
		sa[w] = true
	}
	sb := make(map[string]bool, len(b))
	for _, w := range b {
		sb[w] = true
	}
	inter := 0
	for w := range sa {
		if sb[w] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}
