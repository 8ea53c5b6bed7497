// Command netcore-csvtool converts a newline-delimited JSON export of a
// running server's ClientStorage (one clientstore.Record per line) into
// CSV, the same read/filter/write split as cmd/csvtool, with an added
// --since cutoff the teacher's tool never needed.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gocarina/gocsv"
	"github.com/m-lab/go/rtx"

	"github.com/embergate/netcore/clientstore"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var since = flag.String("since", "", "Only export rows at or after this timestamp (any common format)")

// readRecords parses newline-delimited JSON clientstore.Record values from
// rdr, one per line.
func readRecords(rdr io.Reader) ([]clientstore.Record, error) {
	var out []clientstore.Record
	scanner := bufio.NewScanner(rdr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec clientstore.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}

// filterSince drops every record older than cutoff. A zero cutoff (no
// --since given) is a no-op.
func filterSince(records []clientstore.Record, cutoff time.Time) []clientstore.Record {
	if cutoff.IsZero() {
		return records
	}
	out := records[:0]
	for _, r := range records {
		if !r.Timestamp.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

func toCSV(records []clientstore.Record, wtr io.Writer) error {
	return gocsv.Marshal(records, wtr)
}

func main() {
	flag.Parse()
	args := flag.Args()

	var source io.ReadCloser = os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		rtx.Must(err, "Could not open file %q", args[0])
		source = f
	} else if len(args) > 1 {
		log.Fatal("Too many command-line arguments.")
	}
	defer source.Close()

	records, err := readRecords(source)
	rtx.Must(err, "Could not read records")

	var cutoff time.Time
	if *since != "" {
		cutoff, err = dateparse.ParseAny(*since)
		rtx.Must(err, "Could not parse --since %q", *since)
	}
	records = filterSince(records, cutoff)

	rtx.Must(toCSV(records, os.Stdout), "Could not convert records to CSV")
}
