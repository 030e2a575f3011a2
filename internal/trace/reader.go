package trace

import (
	"bufio"
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"
)

// Entry is one decoded trace record.
type Entry struct {
	Time   time.Time
	Kind   Kind
	Source string
	Data   []byte
}

// Call decodes a KindCall entry.
func (e Entry) Call() (Call, error) {
	if e.Kind != KindCall {
		return Call{}, fmt.Errorf("entry is a %s, not a call", e.Kind)
	}
	return DecodeCall(e.Data)
}

// Format renders the entry the way ffitrace prints it.
func (e Entry) Format() string {
	body := string(e.Data)
	if e.Kind == KindCall {
		if c, err := DecodeCall(e.Data); err == nil {
			body = c.String()
		} else {
			body = "<" + err.Error() + ">"
		}
	}
	return fmt.Sprintf("%s [%s] %s", e.Time.Format(time.RFC3339Nano), e.Source, body)
}

// SearchOptions filters entries. Zero values mean no filter.
type SearchOptions struct {
	Start time.Time
	End   time.Time

	// LimitStart keeps the first N matches, LimitEnd the last N. Setting both
	// is an error.
	LimitStart int
	LimitEnd   int

	Sources []string
	Kinds   []Kind
}

var errBothLimits = errors.New("cannot set both LimitStart and LimitEnd")

type indexEntry struct {
	offset   int64
	unixNano int64
	kind     Kind
	source   int
}

// Reader indexes a trace once and answers queries over it.
type Reader struct {
	r       io.ReaderAt
	entries []indexEntry
	sources []string

	earliest int64
	latest   int64
}

// NewReader indexes the trace in r.
func NewReader(r io.ReaderAt) (*Reader, error) {
	ret := &Reader{r: r}
	if err := ret.index(); err != nil {
		return nil, fmt.Errorf("index trace: %w", err)
	}
	return ret, nil
}

// NewReaderFromFile opens and indexes filename. The returned closer releases
// the file.
func NewReaderFromFile(filename string) (*Reader, io.Closer, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("open trace: %w", err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return r, f, nil
}

func (r *Reader) index() error {
	br := bufio.NewReaderSize(io.NewSectionReader(r.r, 0, 1<<62), 1<<20)
	seen := make(map[string]int)

	var (
		header [headerSize]byte
		source = make([]byte, 0xFFFF)
		off    int64
	)
	for {
		if _, err := io.ReadFull(br, header[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read header at %d: %w", off, err)
		}
		kind, sourceLen, payloadLen, ts := decodeHeader(header)
		if kind == KindInvalid {
			return fmt.Errorf("invalid header at %d", off)
		}
		if _, err := io.ReadFull(br, source[:sourceLen]); err != nil {
			return fmt.Errorf("read source at %d: %w", off, err)
		}
		if _, err := br.Discard(int(payloadLen)); err != nil {
			return fmt.Errorf("skip payload at %d: %w", off, err)
		}

		id, ok := seen[string(source[:sourceLen])]
		if !ok {
			id = len(r.sources)
			r.sources = append(r.sources, string(source[:sourceLen]))
			seen[r.sources[id]] = id
		}

		if r.earliest == 0 || ts < r.earliest {
			r.earliest = ts
		}
		if ts > r.latest {
			r.latest = ts
		}

		r.entries = append(r.entries, indexEntry{offset: off, unixNano: ts, kind: kind, source: id})
		off += headerSize + int64(sourceLen) + int64(payloadLen)
	}
}

// Sources returns every source in the order it first appeared.
func (r *Reader) Sources() []string {
	return slices.Clone(r.sources)
}

// TimeRange returns the earliest and latest timestamps.
func (r *Reader) TimeRange() (time.Time, time.Time) {
	return time.Unix(0, r.earliest), time.Unix(0, r.latest)
}

// Len returns the number of entries.
func (r *Reader) Len() int {
	return len(r.entries)
}

func (r *Reader) match(opts SearchOptions) ([]indexEntry, error) {
	if opts.LimitStart > 0 && opts.LimitEnd > 0 {
		return nil, errBothLimits
	}

	var wantSource map[int]bool
	if len(opts.Sources) > 0 {
		wantSource = make(map[int]bool)
		for _, s := range opts.Sources {
			if i := slices.Index(r.sources, s); i >= 0 {
				wantSource[i] = true
			}
		}
	}

	var out []indexEntry
	for _, e := range r.entries {
		if wantSource != nil && !wantSource[e.source] {
			continue
		}
		if len(opts.Kinds) > 0 && !slices.Contains(opts.Kinds, e.kind) {
			continue
		}
		ts := time.Unix(0, e.unixNano)
		if !opts.Start.IsZero() && ts.Before(opts.Start) {
			continue
		}
		if !opts.End.IsZero() && ts.After(opts.End) {
			continue
		}
		out = append(out, e)
	}

	// Writers race for offsets, so file order is only roughly time order.
	slices.SortStableFunc(out, func(a, b indexEntry) int {
		return cmp.Compare(a.unixNano, b.unixNano)
	})

	if opts.LimitStart > 0 && len(out) > opts.LimitStart {
		out = out[:opts.LimitStart]
	}
	if opts.LimitEnd > 0 && len(out) > opts.LimitEnd {
		out = out[len(out)-opts.LimitEnd:]
	}
	return out, nil
}

// Search calls fn for every matching entry in timestamp order.
func (r *Reader) Search(opts SearchOptions, fn func(Entry) error) error {
	matches, err := r.match(opts)
	if err != nil {
		return err
	}
	for _, ie := range matches {
		e, err := r.read(ie)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of entries Search would visit.
func (r *Reader) Count(opts SearchOptions) (int, error) {
	matches, err := r.match(opts)
	return len(matches), err
}

// Each visits every entry in timestamp order.
func (r *Reader) Each(fn func(Entry) error) error {
	return r.Search(SearchOptions{}, fn)
}

// EachSource visits the entries of one source in timestamp order.
func (r *Reader) EachSource(source string, fn func(Entry) error) error {
	return r.Search(SearchOptions{Sources: []string{source}}, fn)
}

func (r *Reader) read(ie indexEntry) (Entry, error) {
	var header [headerSize]byte
	if _, err := r.r.ReadAt(header[:], ie.offset); err != nil {
		return Entry{}, fmt.Errorf("read header at %d: %w", ie.offset, err)
	}
	kind, sourceLen, payloadLen, ts := decodeHeader(header)

	data := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := r.r.ReadAt(data, ie.offset+headerSize+int64(sourceLen)); err != nil {
			return Entry{}, fmt.Errorf("read payload at %d: %w", ie.offset, err)
		}
	}
	return Entry{
		Time:   time.Unix(0, ts),
		Kind:   kind,
		Source: r.sources[ie.source],
		Data:   data,
	}, nil
}
