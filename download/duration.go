package download

// Normalize maps a raw media length in milliseconds to the duration bucket
// users ask for with --duration.
//
// Whole minutes are rounded down to a multiple of five within their decade.
// A unit digit of exactly 5 is left alone. Lengths that collapse to 0 are
// bucketed on their fractional minutes instead: [2,3) is 2, [3,4) is 3,
// [4,5] is 5 and anything else is 1.
func Normalize(rawMs int64) int {
	minutes := int(rawMs / 60000)
	unit := minutes % 10

	if unit > 0 && unit < 5 {
		minutes -= unit
	} else if unit > 5 {
		minutes -= unit - 5
	}

	if minutes == 0 {
		exact := float64(rawMs) / 60000
		switch {
		case exact >= 2 && exact < 3:
			minutes = 2
		case exact >= 3 && exact < 4:
			minutes = 3
		case exact >= 4 && exact <= 5:
			minutes = 5
		default:
			minutes = 1
		}
	}
	return minutes
}
