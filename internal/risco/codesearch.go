package risco

import "fmt"

const maxCodeWidth = 6

// codeSearch enumerates access codes width by width: "0".."9", then
// "00".."99", up to six digits.
type codeSearch struct {
	width int
	next  int
	limit int
}

func newCodeSearch() *codeSearch {
	return &codeSearch{width: 1, limit: 10}
}

func (s *codeSearch) Next() (string, bool) {
	if s.next >= s.limit {
		if s.width >= maxCodeWidth {
			return "", false
		}
		s.width++
		s.next = 0
		s.limit *= 10
	}
	code := fmt.Sprintf("%0*d", s.width, s.next)
	s.next++
	return code, true
}

// padCode left-pads a numeric access code with zeros to width.
func padCode(code string, width int) string {
	for len(code) < width {
		code = "0" + code
	}
	return code
}
