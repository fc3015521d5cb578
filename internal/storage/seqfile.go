package storage

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/happyhackingspace/seqlab/classify"
	"github.com/happyhackingspace/seqlab/sequential"
)

// Sequence files hold one example per line:
//
//	k <subpop|NUL> <label> <feature>... <feature>=<value>...
//
// A line holding only "*" ends a sequence. Strings are %XX-escaped;
// feature names additionally escape '='. Lines of type "b" carry the
// binary labels +1 and -1.
const (
	sequenceSeparator = "*"
	nullSubpop        = "NUL"
)

const (
	stringSpecials  = "% \t\r\n"
	featureSpecials = "% \t\r\n="
)

func encode(s, specials string) string {
	if !strings.ContainsAny(s, specials) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(specials, s[i]) >= 0 {
			fmt.Fprintf(&b, "%%%02X", s[i])
		} else {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func decode(s string) (string, error) {
	if !strings.Contains(s, "%") {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("truncated escape in %q", s)
		}
		v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
		if err != nil {
			return "", fmt.Errorf("bad escape in %q", s)
		}
		b.WriteByte(byte(v))
		i += 2
	}
	return b.String(), nil
}

// WriteSequences writes every sequence of ds to w.
func WriteSequences(w io.Writer, ds *sequential.Dataset) error {
	bw := bufio.NewWriter(w)
	for _, seq := range ds.Sequences() {
		for _, ex := range seq {
			if _, err := bw.WriteString(formatExample(ex)); err != nil {
				return err
			}
			if err := bw.WriteByte('\n'); err != nil {
				return err
			}
		}
		if _, err := bw.WriteString(sequenceSeparator + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func formatExample(ex classify.Example) string {
	subpop := ex.SubpopulationID()
	if subpop == "" {
		subpop = nullSubpop
	}
	parts := []string{"k", encode(subpop, stringSpecials), encode(ex.Label.BestClassName(), stringSpecials)}
	for _, f := range ex.BinaryFeatures() {
		parts = append(parts, encode(string(f), featureSpecials))
	}
	for _, f := range ex.NumericFeatures() {
		parts = append(parts, encode(string(f), featureSpecials)+"="+strconv.FormatFloat(ex.Weight(f), 'g', -1, 64))
	}
	return strings.Join(parts, " ")
}

// ReadSequences parses a sequence file. name is used in example sources
// ("name:line") and error messages.
func ReadSequences(r io.Reader, name string) (*sequential.Dataset, error) {
	ds := sequential.NewDataset()
	var seq []classify.Example
	flush := func() error {
		if len(seq) == 0 {
			return nil
		}
		err := ds.AddSequence(seq)
		seq = nil
		return err
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		switch text {
		case "":
			continue
		case sequenceSeparator:
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		ex, err := parseExample(text, fmt.Sprintf("%s:%d", name, line))
		if err != nil {
			return nil, err
		}
		seq = append(seq, ex)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return ds, nil
}

func parseExample(line, source string) (classify.Example, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return classify.Example{}, fmt.Errorf("%s: too few values", source)
	}
	subpop, err := decode(fields[1])
	if err != nil {
		return classify.Example{}, fmt.Errorf("%s: %w", source, err)
	}
	if subpop == nullSubpop {
		subpop = ""
	}
	label, err := decode(fields[2])
	if err != nil {
		return classify.Example{}, fmt.Errorf("%s: %w", source, err)
	}
	switch fields[0] {
	case "k":
	case "b":
		switch label {
		case "+1", classify.PosClassName:
			label = classify.PosClassName
		case "-1", classify.NegClassName:
			label = classify.NegClassName
		default:
			return classify.Example{}, fmt.Errorf("%s: binary label should be +1 or -1, got %q", source, label)
		}
	default:
		return classify.Example{}, fmt.Errorf("%s: unknown example type %q", source, fields[0])
	}

	inst := classify.NewMutableInstance(source, subpop)
	for i, field := range fields[3:] {
		name, value, numeric := strings.Cut(field, "=")
		f, err := decode(name)
		if err != nil {
			return classify.Example{}, fmt.Errorf("%s: %w", source, err)
		}
		if !numeric {
			inst.AddBinary(classify.Feature(f))
			continue
		}
		w, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return classify.Example{}, fmt.Errorf("%s: bad feature #%d: %w", source, i+1, err)
		}
		inst.AddNumeric(classify.Feature(f), w)
	}
	return classify.NewExample(inst, label), nil
}

// LoadSequenceFile reads a sequence file from disk.
func LoadSequenceFile(path string) (*sequential.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	ds, err := ReadSequences(f, filepath.Base(path))
	if err != nil {
		return nil, err
	}
	slog.Debug("Loaded sequences", "path", path, "sequences", ds.NumSequences(), "examples", ds.Size())
	return ds, nil
}

// SaveSequenceFile writes ds to path.
func SaveSequenceFile(path string, ds *sequential.Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteSequences(f, ds); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
