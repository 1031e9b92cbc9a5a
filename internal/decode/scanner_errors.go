package decode

import "fmt"

func errUnexpected(s *scanner, want byte) error {
	got := byte(0)
	if s.i < len(s.buf) {
		got = s.buf[s.i]
	}
	return fmt.Errorf("at offset %d: expected %q, got %q", s.i, want, got)
}

func errExpectedQuote(s *scanner) error {
	return fmt.Errorf("at offset %d: expected '\"'", s.i)
}

func errUnterminated(s *scanner) error {
	return fmt.Errorf("unterminated token at offset %d", s.i)
}
