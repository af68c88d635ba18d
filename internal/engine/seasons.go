// Season calendar: seasons cycle every seasonLength ticks and each seed
// carries a 4-bit mask of the seasons it grows in.
package engine

// Season constants. A growth mask has bit 1<<season set for every season the
// crop grows in.
const (
	SeasonWinter = 0
	SeasonSpring = 1
	SeasonSummer = 2
	SeasonAutumn = 3
)

// AllSeasons is the growth mask of a crop that grows all year.
const AllSeasons uint8 = 0b1111

// SeasonIndex returns the season of tick: (tick / seasonLength) % 4.
// seasonLength must be positive.
func SeasonIndex(tick, seasonLength uint64) uint8 {
	return uint8((tick / seasonLength) % 4)
}

// SeasonFlag returns the mask bit of the season at tick.
func SeasonFlag(tick, seasonLength uint64) uint8 {
	return 1 << SeasonIndex(tick, seasonLength)
}

// IsGrowthSeason reports whether a crop with the given mask grows at tick.
func IsGrowthSeason(mask uint8, tick, seasonLength uint64) bool {
	return mask&SeasonFlag(tick, seasonLength) != 0
}

// NextSeasonStart returns the first tick of the season after the one at tick.
func NextSeasonStart(tick, seasonLength uint64) uint64 {
	return (tick/seasonLength + 1) * seasonLength
}

// SeasonName returns a human-readable season name.
func SeasonName(season uint8) string {
	switch season {
	case SeasonWinter:
		return "Winter"
	case SeasonSpring:
		return "Spring"
	case SeasonSummer:
		return "Summer"
	case SeasonAutumn:
		return "Autumn"
	default:
		return "Unknown"
	}
}

// SeasonMaskNames lists the seasons set in mask, in calendar order.
func SeasonMaskNames(mask uint8) []string {
	var names []string
	for s := uint8(SeasonWinter); s <= SeasonAutumn; s++ {
		if mask&(1<<s) != 0 {
			names = append(names, SeasonName(s))
		}
	}
	return names
}
