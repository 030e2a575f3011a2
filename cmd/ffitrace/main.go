package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/tinyrange/miniffi/internal/trace"
)

type options struct {
	list      bool
	timeRange bool
	calls     bool
	repaired  bool
	source    string
	limit     int
	tail      bool
}

func run() error {
	var opts options
	flag.BoolVar(&opts.list, "list", false, "list all sources in the trace")
	flag.BoolVar(&opts.timeRange, "range", false, "print the earliest and latest timestamps")
	flag.BoolVar(&opts.calls, "calls", false, "only show call entries")
	flag.BoolVar(&opts.repaired, "repaired", false, "only show calls whose stack pointer was restored")
	flag.StringVar(&opts.source, "source", "", "regex to filter sources")
	flag.IntVar(&opts.limit, "limit", 100, "limit the number of entries (0 for unlimited)")
	flag.BoolVar(&opts.tail, "tail", false, "show last N entries instead of first N")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `ffitrace - inspect native call traces

USAGE:
  ffitrace [flags] <filename>

FLAGS:
  -list          List all sources (library!function) in the trace
  -range         Show earliest/latest timestamps and total duration
  -calls         Only show call entries
  -repaired      Only show calls whose stack pointer was restored
  -source REGEX  Only show entries whose source matches regex
  -limit N       Max entries to return (default: 100, 0 for unlimited)
  -tail          Show last N entries instead of first N

OUTPUT FORMAT:
  TIMESTAMP [SOURCE] (ARGS...) = RESULT in DURATION [stack repaired, drift N]

EXAMPLES:
  ffitrace calls.trace
  ffitrace -tail -limit 20 calls.trace
  ffitrace -source 'strlen$' calls.trace
  ffitrace -repaired calls.trace
`)
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	reader, closer, err := trace.NewReaderFromFile(flag.Arg(0))
	if err != nil {
		return err
	}
	defer closer.Close()

	return inspect(os.Stdout, reader, opts)
}

func inspect(w io.Writer, reader *trace.Reader, opts options) error {
	if opts.list {
		for _, src := range reader.Sources() {
			fmt.Fprintln(w, src)
		}
		return nil
	}

	if opts.timeRange {
		earliest, latest := reader.TimeRange()
		fmt.Fprintf(w, "earliest: %s\nlatest:   %s\nduration: %s\nentries:  %d\n",
			earliest.Format(time.RFC3339Nano), latest.Format(time.RFC3339Nano), latest.Sub(earliest), reader.Len())
		return nil
	}

	var sourceRe *regexp.Regexp
	if opts.source != "" {
		var err error
		if sourceRe, err = regexp.Compile(opts.source); err != nil {
			return fmt.Errorf("invalid source regex: %w", err)
		}
	}

	search := trace.SearchOptions{}
	if opts.calls || opts.repaired {
		search.Kinds = []trace.Kind{trace.KindCall}
	}

	var entries []trace.Entry
	if err := reader.Search(search, func(e trace.Entry) error {
		if sourceRe != nil && !sourceRe.MatchString(e.Source) {
			return nil
		}
		if opts.repaired {
			c, err := e.Call()
			if err != nil {
				return err
			}
			if !c.Repaired {
				return nil
			}
		}
		entries = append(entries, e)
		return nil
	}); err != nil {
		return fmt.Errorf("read trace: %w", err)
	}

	if opts.limit > 0 && len(entries) > opts.limit {
		if opts.tail {
			entries = entries[len(entries)-opts.limit:]
		} else {
			entries = entries[:opts.limit]
		}
	}

	for _, e := range entries {
		fmt.Fprintln(w, e.Format())
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ffitrace: %v\n", err)
		os.Exit(1)
	}
}
