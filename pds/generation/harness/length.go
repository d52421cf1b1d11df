package harness

// LengthCategory is a band of target post lengths in characters.
type LengthCategory struct {
	Name        string
	Min, Max    int // inclusive
	Probability float64
}

// LengthTarget is a sampled category plus the concrete target inside it.
type LengthTarget struct {
	LengthCategory
	Target int
}

// DefaultLengthDistribution skews toward short posts.
var DefaultLengthDistribution = []LengthCategory{
	{Name: "very short", Min: 20, Max: 80, Probability: 0.35},
	{Name: "short", Min: 80, Max: 140, Probability: 0.35},
	{Name: "medium", Min: 140, Max: 200, Probability: 0.20},
	{Name: "long", Min: 200, Max: 280, Probability: 0.10},
}

var fallbackLength = LengthTarget{
	LengthCategory: LengthCategory{Name: "short", Min: 80, Max: 140},
	Target:         100,
}

// SampleLength picks a category by weight, then a uniform target within its range.
// Distributions whose weights sum below the draw fall back to a short 100-character post.
func SampleLength(rng Random, dist []LengthCategory) LengthTarget {
	draw := rng.Float64()
	cumulative := 0.0
	for _, cat := range dist {
		cumulative += cat.Probability
		if draw < cumulative {
			return LengthTarget{
				LengthCategory: cat,
				Target:         cat.Min + rng.IntN(cat.Max-cat.Min+1),
			}
		}
	}
	return fallbackLength
}
