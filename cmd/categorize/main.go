// Command categorize classifies an aggregator JSON export offline, without a
// store, and prints one verdict per record.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"mintmind/internal/aggregator"
	"mintmind/internal/classify"
	"mintmind/internal/core"
	applog "mintmind/internal/log"
)

// verdictJSON is one output line in json mode.
type verdictJSON struct {
	ExternalID  string   `json:"external_id"`
	Name        string   `json:"name"`
	Amount      float64  `json:"amount"`
	Date        string   `json:"date"`
	Category    string   `json:"category"`
	IsRecurring bool     `json:"is_recurring"`
	IsGambling  bool     `json:"is_gambling"`
	Confidence  float64  `json:"confidence"`
	Method      string   `json:"method"`
	Reasoning   string   `json:"reasoning,omitempty"`
	Signals     []string `json:"signals,omitempty"`
}

type options struct {
	rulesFile    string
	format       string
	gamblingOnly bool
	input        string
}

func main() {
	var opts options
	flag.StringVar(&opts.rulesFile, "rules", os.Getenv("RULES_FILE"), "YAML rules file (default: embedded rules)")
	flag.StringVar(&opts.format, "format", "text", "output format: text or json")
	flag.BoolVar(&opts.gamblingOnly, "gambling-only", false, "print only records flagged as gambling")
	flag.Parse()
	opts.input = flag.Arg(0)

	if _, err := applog.Setup(os.Getenv("LOG_LEVEL"), applog.FormatText, applog.ComponentCLI); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(opts, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "categorize:", err)
		os.Exit(1)
	}
}

// run classifies records from opts.input, or from stdin when it is empty or
// "-". Malformed records are reported on stderr and skipped.
func run(opts options, stdin io.Reader, stdout io.Writer) error {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unknown format %q", opts.format)
	}

	rules, err := classify.LoadRules(opts.rulesFile)
	if err != nil {
		return err
	}

	in := stdin
	if opts.input != "" && opts.input != "-" {
		f, err := os.Open(opts.input)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	recs, err := aggregator.DecodeRecords(in)
	if err != nil {
		return err
	}

	var raws []core.RawTransaction
	for raw, err := range aggregator.Decode(recs) {
		if err != nil {
			fmt.Fprintln(os.Stderr, "skipping:", err)
			continue
		}
		raws = append(raws, raw)
	}

	history := make([]core.HistoryEntry, 0, len(raws))
	for _, raw := range raws {
		history = append(history, raw.History())
	}

	classifier := classify.NewClassifier(rules)
	out := make([]verdictJSON, 0, len(raws))
	for _, raw := range raws {
		v := classifier.Classify(raw, history)
		if opts.gamblingOnly && !v.Gambling.IsMatch {
			continue
		}
		out = append(out, toVerdictJSON(raw, v))
	}

	if opts.format == "json" {
		return writeJSON(stdout, out)
	}
	return writeText(stdout, out)
}

func toVerdictJSON(raw core.RawTransaction, v classify.Verdict) verdictJSON {
	var signals []string
	if v.Gambling.IsMatch {
		signals = append(signals, v.Gambling.Merchants...)
		signals = append(signals, v.Gambling.Keywords...)
		signals = append(signals, v.Gambling.Categories...)
	}
	return verdictJSON{
		ExternalID:  raw.ExternalID,
		Name:        raw.Name,
		Amount:      core.Round2(raw.Amount),
		Date:        raw.Date.Format(time.DateOnly),
		Category:    v.Category,
		IsRecurring: v.IsRecurring,
		IsGambling:  v.Gambling.IsMatch,
		Confidence:  v.Confidence,
		Method:      v.Method,
		Reasoning:   v.Reasoning,
		Signals:     signals,
	}
}

func writeJSON(w io.Writer, out []verdictJSON) error {
	enc := json.NewEncoder(w)
	for _, v := range out {
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode verdict: %w", err)
		}
	}
	return nil
}

func writeText(w io.Writer, out []verdictJSON) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tNAME\tAMOUNT\tCATEGORY\tCONF\tMETHOD\tRECURRING")
	for _, v := range out {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%.2f\t%s\t%t\n",
			v.Date, v.Name, v.Amount, v.Category, v.Confidence, v.Method, v.IsRecurring)
	}
	return tw.Flush()
}
