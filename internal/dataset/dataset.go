// Package dataset reads the line-aligned text files of a dialogue corpus
// and locates its splits on disk.
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var ErrLengthMismatch = errors.New("dataset: parallel files differ in length")

const (
	SplitTrain = "train"
	SplitDev   = "dev"
	SplitTest  = "test"

	TextExt = ".txt"
)

// Splits lists the splits in extraction order.
var Splits = []string{SplitTrain, SplitDev, SplitTest}

// Pairs is an ordered sequence of (query, reply) texts aligned by line.
type Pairs struct {
	Queries []string
	Replies []string
}

func (p *Pairs) Len() int { return len(p.Queries) }

// ReadLines returns the lines of path without trailing newlines. A final
// empty line after the last newline is not returned.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}

// ReadParallel reads two aligned files. Their line counts must match.
func ReadParallel(queryPath, replyPath string) (*Pairs, error) {
	q, err := ReadLines(queryPath)
	if err != nil {
		return nil, err
	}
	r, err := ReadLines(replyPath)
	if err != nil {
		return nil, err
	}
	if len(q) != len(r) {
		return nil, fmt.Errorf("%w: %s has %d lines, %s has %d", ErrLengthMismatch, queryPath, len(q), replyPath, len(r))
	}
	return &Pairs{Queries: q, Replies: r}, nil
}

// ReadScores reads a human-score file: one float per line. Blank lines are
// skipped.
func ReadScores(path string) ([]float64, error) {
	lines, err := ReadLines(path)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, 0, len(lines))
	for i, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		v, err := strconv.ParseFloat(l, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, i+1, err)
		}
		scores = append(scores, v)
	}
	return scores, nil
}

// Layout locates the files of one dataset directory:
// <dir>/{src,tgt}-{train,dev,test}.txt with embeddings beside them.
type Layout struct {
	Dir string
}

func (l Layout) base(side, split string) string {
	return filepath.Join(l.Dir, side+"-"+split)
}

// Source is the query (context) text file of split.
func (l Layout) Source(split string) string { return l.base("src", split) + TextExt }

// Target is the reply text file of split.
func (l Layout) Target(split string) string { return l.base("tgt", split) + TextExt }

// SourceEmbeddings is the embedding file extracted from Source(split).
func (l Layout) SourceEmbeddings(split, ext string) string { return l.base("src", split) + ext }

// TargetEmbeddings is the embedding file extracted from Target(split).
func (l Layout) TargetEmbeddings(split, ext string) string { return l.base("tgt", split) + ext }

// Read loads the text pairs of split.
func (l Layout) Read(split string) (*Pairs, error) {
	return ReadParallel(l.Source(split), l.Target(split))
}
