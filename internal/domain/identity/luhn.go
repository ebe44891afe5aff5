package identity

// luhnCheckDigit computes the Luhn mod-10 check digit for a string of
// decimal digits.
func luhnCheckDigit(digits string) (int, error) {
	sum := 0
	double := true
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return 0, errInvalidDigits
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return (10 - sum%10) % 10, nil
}

// ValidateNumber reports whether an identifier's trailing check digit is
// consistent with its body.
func ValidateNumber(number string) bool {
	if len(number) < 2 {
		return false
	}
	body := number[:len(number)-1]
	check, err := luhnCheckDigit(body)
	if err != nil {
		return false
	}
	return number[len(number)-1] == byte('0'+check)
}
