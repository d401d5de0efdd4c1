// Package workload replays file operation traces against the filesystem
// and checks every read against a shadow copy of the data.
package workload

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"
)

var ErrSyntax = errors.New("bad trace line")

type Kind int

const (
	Open Kind = iota
	Write
	Read
	Seek
	Close
	Shutdown
)

var kindNames = map[string]Kind{
	"open":     Open,
	"write":    Write,
	"read":     Read,
	"seek":     Seek,
	"close":    Close,
	"shutdown": Shutdown,
}

func (k Kind) String() string {
	for name, kind := range kindNames {
		if kind == k {
			return name
		}
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Op is one trace line.
type Op struct {
	Line int
	Kind Kind
	Name string
	Arg  int64
}

func (o Op) String() string {
	switch o.Kind {
	case Shutdown:
		return o.Kind.String()
	case Open, Close:
		return fmt.Sprintf("%s %s", o.Kind, o.Name)
	}
	return fmt.Sprintf("%s %s %d", o.Kind, o.Name, o.Arg)
}

// Parse reads a trace. Blank lines and lines starting with # are skipped.
func Parse(r io.Reader) ([]Op, error) {
	var ops []Op
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		op, err := parseLine(line, strings.Fields(text))
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ops, nil
}

func parseLine(line int, fields []string) (Op, error) {
	kind, ok := kindNames[strings.ToLower(fields[0])]
	if !ok {
		return Op{}, fmt.Errorf("line %d: unknown operation %q: %w", line, fields[0], ErrSyntax)
	}
	op := Op{Line: line, Kind: kind}
	want := 3
	switch kind {
	case Shutdown:
		want = 1
	case Open, Close:
		want = 2
	}
	if len(fields) != want {
		return Op{}, fmt.Errorf("line %d: %s takes %d fields, got %d: %w", line, kind, want, len(fields), ErrSyntax)
	}
	if want > 1 {
		op.Name = fields[1]
	}
	if want > 2 {
		n, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil || n < 0 {
			return Op{}, fmt.Errorf("line %d: bad number %q: %w", line, fields[2], ErrSyntax)
		}
		op.Arg = n
	}
	return op, nil
}

// Generate builds a random but valid trace over the given number of files.
// Every file is closed at the end.
func Generate(seed int64, files, ops int, maxLen int) []Op {
	rnd := rand.New(rand.NewSource(seed))
	names := make([]string, files)
	lengths := make([]int64, files)
	for i := range names {
		names[i] = fmt.Sprintf("file%d.dat", i)
	}
	var trace []Op
	add := func(kind Kind, name string, arg int64) {
		trace = append(trace, Op{Line: len(trace) + 1, Kind: kind, Name: name, Arg: arg})
	}
	for _, name := range names {
		add(Open, name, 0)
	}
	for i := 0; i < ops; i++ {
		f := rnd.Intn(files)
		switch rnd.Intn(3) {
		case 0:
			n := int64(rnd.Intn(maxLen) + 1)
			add(Write, names[f], n)
			lengths[f] += n
		case 1:
			add(Seek, names[f], rnd.Int63n(lengths[f]+1))
		case 2:
			add(Read, names[f], int64(rnd.Intn(maxLen)+1))
		}
	}
	for _, name := range names {
		add(Close, name, 0)
	}
	return trace
}
