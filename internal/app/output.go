package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/osrsprice/internal/domain"
)

// historyRows caps how many history points the text renderer prints.
const historyRows = 14

type renderer struct {
	w    io.Writer
	json bool
}

func newRenderer(format string, w io.Writer) (*renderer, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return &renderer{w: w}, nil
	case "json":
		return &renderer{w: w, json: true}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (valid: text, json)", format)
	}
}

// jsonResult is the machine-readable shape of one query result.
type jsonResult struct {
	Query      string                `json:"query"`
	ItemID     *domain.ItemID        `json:"item_id,omitempty"`
	Name       string                `json:"name,omitempty"`
	Outcome    domain.Outcome        `json:"outcome"`
	Buy        *int64                `json:"buy"`
	Sell       *int64                `json:"sell"`
	BuyTime    *time.Time            `json:"buy_time,omitempty"`
	SellTime   *time.Time            `json:"sell_time,omitempty"`
	SampledAt  *time.Time            `json:"sampled_at,omitempty"`
	FetchedAt  *time.Time            `json:"fetched_at,omitempty"`
	History    []domain.HistoryPoint `json:"history,omitempty"`
	Candidates []string              `json:"candidates,omitempty"`
	Error      string                `json:"error,omitempty"`
}

func (r *renderer) results(results []domain.Result) error {
	if r.json {
		out := make([]jsonResult, 0, len(results))
		for _, res := range results {
			out = append(out, toJSON(res))
		}
		return r.encode(out)
	}
	for _, res := range results {
		if _, err := io.WriteString(r.w, formatResult(res)); err != nil {
			return err
		}
	}
	return nil
}

// noMatches renders an empty search.
func (r *renderer) noMatches() error {
	if r.json {
		return r.encode([]jsonResult{})
	}
	_, err := io.WriteString(r.w, "no matching items\n")
	return err
}

func (r *renderer) encode(v any) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func toJSON(res domain.Result) jsonResult {
	out := jsonResult{
		Query:   res.Query.Text,
		Outcome: res.Outcome,
	}
	if res.Item != nil {
		id := res.Item.ID
		out.ItemID = &id
		out.Name = res.Item.Name
	}
	if res.Entry != nil {
		rec := res.Entry.Record
		out.Buy, out.Sell = rec.Buy, rec.Sell
		out.BuyTime, out.SellTime = rec.BuyTime, rec.SellTime
		sampled, fetched := rec.SampledAt, res.Entry.FetchedAt
		out.SampledAt, out.FetchedAt = &sampled, &fetched
		out.History = rec.History
	}
	for _, c := range res.Candidates {
		out.Candidates = append(out.Candidates, c.Item.Name)
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

// formatResult renders one result as one or more text lines. A side with no
// data prints as N/A, never as zero.
func formatResult(res domain.Result) string {
	var b strings.Builder

	var amb *domain.AmbiguousError
	switch {
	case res.OK():
		rec := res.Entry.Record
		fmt.Fprintf(&b, "%s: buy %s, sell %s", label(res), formatPrice(rec.Buy), formatPrice(rec.Sell))
		if !rec.SampledAt.IsZero() {
			fmt.Fprintf(&b, " (as of %s)", rec.SampledAt.Local().Format("2006-01-02 15:04"))
		}
		if res.Outcome == domain.OutcomeStaleFallback {
			b.WriteString(" [stale: refresh failed]")
		}
		b.WriteByte('\n')
		if res.Query.Historical {
			writeHistory(&b, rec.History)
		}
	case errors.As(res.Err, &amb):
		names := make([]string, 0, len(amb.Candidates))
		for _, c := range amb.Candidates {
			names = append(names, c.Item.Name)
		}
		fmt.Fprintf(&b, "%q is ambiguous, did you mean: %s\n", res.Query.Text, strings.Join(names, ", "))
	case res.Item == nil && errors.Is(res.Err, domain.ErrNotFound):
		fmt.Fprintf(&b, "%q: no such item\n", res.Query.Text)
	default:
		fmt.Fprintf(&b, "%s: no price data (%v)\n", label(res), res.Err)
	}
	return b.String()
}

func label(res domain.Result) string {
	if res.Item == nil {
		return strconv.Quote(res.Query.Text)
	}
	return fmt.Sprintf("%s (%d)", res.Item.Name, res.Item.ID)
}

func writeHistory(b *strings.Builder, points []domain.HistoryPoint) {
	if len(points) == 0 {
		b.WriteString("  no history available\n")
		return
	}
	if len(points) > historyRows {
		points = points[len(points)-historyRows:]
	}
	for _, p := range points {
		fmt.Fprintf(b, "  %s  high %s (vol %s)  low %s (vol %s)\n",
			p.Timestamp.Local().Format("2006-01-02 15:04"),
			formatPrice(p.AvgHigh), groupDigits(p.HighVolume),
			formatPrice(p.AvgLow), groupDigits(p.LowVolume),
		)
	}
}

func formatPrice(v *int64) string {
	if v == nil {
		return "N/A"
	}
	return groupDigits(*v) + " gp"
}

// groupDigits formats n with comma thousands separators.
func groupDigits(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
