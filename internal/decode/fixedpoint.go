package decode

import "fmt"

// parseFixedPoint parses a decimal ASCII byte slice (e.g. "50000.00000009"
// or "-12.5") into an integer scaled by tick.Scale (1e8). Up to 8
// fractional digits are kept exactly; additional digits are rounded
// toward zero (truncated). It never allocates.
func parseFixedPoint(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("empty numeric field")
	}

	neg := false
	i := 0
	if b[0] == '-' {
		neg = true
		i++
	} else if b[0] == '+' {
		i++
	}
	if i >= len(b) {
		return 0, fmt.Errorf("malformed number %q", b)
	}

	var intPart int64
	sawDigit := false
	for i < len(b) && b[i] != '.' {
		d := b[i]
		if d < '0' || d > '9' {
			return 0, fmt.Errorf("malformed number %q", b)
		}
		sawDigit = true
		next := intPart*10 + int64(d-'0')
		if next < intPart {
			return 0, fmt.Errorf("numeric overflow %q", b)
		}
		intPart = next
		i++
	}

	var fracPart int64
	fracDigits := 0
	if i < len(b) && b[i] == '.' {
		i++
		for i < len(b) {
			d := b[i]
			if d < '0' || d > '9' {
				return 0, fmt.Errorf("malformed number %q", b)
			}
			sawDigit = true
			if fracDigits < 8 {
				fracPart = fracPart*10 + int64(d-'0')
			}
			// digits beyond the 8th are read but dropped: rounding
			// toward zero is simple truncation.
			fracDigits++
			i++
		}
	}
	if !sawDigit {
		return 0, fmt.Errorf("malformed number %q", b)
	}

	scale := int64(1)
	kept := fracDigits
	if kept > 8 {
		kept = 8
	}
	for p := 0; p < 8-kept; p++ {
		scale *= 10
	}
	fracPart *= scale

	const maxFixed = int64(1) << 60
	if intPart > maxFixed/100_000_000 {
		return 0, fmt.Errorf("numeric overflow %q", b)
	}
	value := intPart*100_000_000 + fracPart
	if neg {
		value = -value
	}
	return value, nil
}

// parseUint parses an unsigned decimal integer without allocating.
func parseUint(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("empty integer field")
	}
	var v uint64
	for _, d := range b {
		if d < '0' || d > '9' {
			return 0, fmt.Errorf("malformed integer %q", b)
		}
		next := v*10 + uint64(d-'0')
		if next < v {
			return 0, fmt.Errorf("integer overflow %q", b)
		}
		v = next
	}
	return v, nil
}

// parseInt parses a signed decimal integer without allocating.
func parseInt(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("empty integer field")
	}
	neg := false
	i := 0
	if b[0] == '-' {
		neg = true
		i++
	}
	u, err := parseUint(b[i:])
	if err != nil {
		return 0, err
	}
	v := int64(u)
	if neg {
		v = -v
	}
	return v, nil
}
