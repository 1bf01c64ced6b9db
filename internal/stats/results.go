package stats

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"
)

var ErrWrongFormat = errors.New("wrong file format")

// Result-file line markers. "su_p" must be tested before "u_p", which it
// contains.
const (
	MarkerUnreferenced = "su_p"
	MarkerReferenced   = "sr_p"
	MarkerRUBER        = "u_p"
)

var resultPattern = regexp.MustCompile(`(0\.[0-9]+)\((.+?)\)`)

// Summary averages the Pearson and Spearman values of a results file.
type Summary struct {
	UnreferencedPearson  float64
	UnreferencedSpearman float64
	RUBERPearson         float64
	RUBERSpearman        float64
	Runs                 int
}

type resultLine struct {
	pearson, spearman float64
}

// ParseResults reads a results file in which every line is an
// unreferenced (su_p), referenced (sr_p) or RUBER (u_p) line carrying
// "0.xxx(p)" pairs, Pearson first. Unreferenced and RUBER lines are paired
// in order; extra lines of either kind are ignored.
func ParseResults(r io.Reader) (*Summary, error) {
	var su, u []resultLine
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		var dst *[]resultLine
		switch {
		case strings.Contains(line, MarkerUnreferenced):
			dst = &su
		case strings.Contains(line, MarkerReferenced):
		case strings.Contains(line, MarkerRUBER):
			dst = &u
		default:
			return nil, fmt.Errorf("%w: line %d: %q", ErrWrongFormat, lineNo, line)
		}
		if dst == nil {
			continue
		}
		rl, err := parseResultLine(line)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrWrongFormat, lineNo, err)
		}
		*dst = append(*dst, rl)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	n := min(len(su), len(u))
	if n == 0 {
		return nil, fmt.Errorf("%w: no paired %s and %s lines", ErrWrongFormat, MarkerUnreferenced, MarkerRUBER)
	}
	var up, us, rp, rs []float64
	for i := 0; i < n; i++ {
		up = append(up, su[i].pearson)
		us = append(us, su[i].spearman)
		rp = append(rp, u[i].pearson)
		rs = append(rs, u[i].spearman)
	}
	return &Summary{
		UnreferencedPearson:  stat.Mean(up, nil),
		UnreferencedSpearman: stat.Mean(us, nil),
		RUBERPearson:         stat.Mean(rp, nil),
		RUBERSpearman:        stat.Mean(rs, nil),
		Runs:                 n,
	}, nil
}

func parseResultLine(line string) (resultLine, error) {
	m := resultPattern.FindAllStringSubmatch(strings.TrimSpace(line), -1)
	if len(m) < 2 {
		return resultLine{}, fmt.Errorf("want 2 value(p) pairs, found %d", len(m))
	}
	p, err := strconv.ParseFloat(m[0][1], 64)
	if err != nil {
		return resultLine{}, err
	}
	s, err := strconv.ParseFloat(m[1][1], 64)
	if err != nil {
		return resultLine{}, err
	}
	return resultLine{pearson: p, spearman: s}, nil
}

// Write prints the averages the way evaluation reports round them.
func (s *Summary) Write(w io.Writer) error {
	_, err := fmt.Fprintf(w,
		"Unrefer Avg pearson: %s, Unrefer Avg spearman: %s\nRUBER Avg pearson: %s, RUBER Avg spearman: %s\n",
		FormatFloat(s.UnreferencedPearson), FormatFloat(s.UnreferencedSpearman),
		FormatFloat(s.RUBERPearson), FormatFloat(s.RUBERSpearman))
	return err
}
