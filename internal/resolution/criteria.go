package resolution

// Matches reports whether a video of the given dimensions satisfies the spec.
// A non-positive width or height counts as absent and never matches.
func (s Spec) Matches(width, height int) bool {
	if width <= 0 || height <= 0 {
		return false
	}

	if s.hasWidth {
		switch s.comparison {
		case EQ:
			return width == s.width && height == s.height
		case LTE:
			return width <= s.width && height <= s.height
		case GTE:
			return width >= s.width && height >= s.height
		}
		return false
	}

	switch s.comparison {
	case EQ:
		return abs(height-s.height) <= s.tolerance
	case LTE:
		return height <= s.height
	case GTE:
		return height >= s.height
	}
	return false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
