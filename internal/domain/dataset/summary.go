package dataset

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
)

// Summary computes descriptive statistics of one column. Numeric columns get
// mean, median, std and percentiles; booleans get true/false counts; strings
// and dates get unique counts and min/max.
func (t *Table) Summary(column string) (protocol.ColumnSummary, error) {
	values, ok := t.Column(column)
	if !ok {
		return protocol.ColumnSummary{}, protocol.NotFoundf("column %q not found", column)
	}

	s := protocol.ColumnSummary{Total: len(values)}
	var present []any
	for _, v := range values {
		if v == nil {
			s.Nulls++
			continue
		}
		present = append(present, v)
	}

	switch InferType(values) {
	case protocol.ColumnBoolean:
		var yes, no int
		for _, v := range present {
			if v.(bool) {
				yes++
			} else {
				no++
			}
		}
		s.True, s.False = &yes, &no
	case protocol.ColumnInteger, protocol.ColumnNumber:
		numericSummary(&s, present)
	case protocol.ColumnDate:
		dates := make([]time.Time, 0, len(present))
		for _, v := range present {
			if tv, ok := v.(time.Time); ok {
				dates = append(dates, tv)
			} else if d, ok := parseDate(fmt.Sprint(v)); ok {
				dates = append(dates, d)
			}
		}
		sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
		if len(dates) > 0 {
			s.Min = dates[0].Format(time.RFC3339)
			s.Max = dates[len(dates)-1].Format(time.RFC3339)
		}
		s.Unique = uniqueCount(present)
	case protocol.ColumnString:
		strs := make([]string, len(present))
		for i, v := range present {
			strs[i] = fmt.Sprint(v)
		}
		sort.Strings(strs)
		if len(strs) > 0 {
			s.Min, s.Max = strs[0], strs[len(strs)-1]
		}
		s.Unique = uniqueCount(present)
	default:
		s.Unique = uniqueCount(present)
	}
	return s, nil
}

func numericSummary(s *protocol.ColumnSummary, present []any) {
	xs := make([]float64, 0, len(present))
	for _, v := range present {
		if f, ok := toFloat(v); ok {
			xs = append(xs, f)
		}
	}
	if len(xs) == 0 {
		return
	}
	sort.Float64s(xs)

	s.Min, s.Max = xs[0], xs[len(xs)-1]
	mean := stat.Mean(xs, nil)
	s.Mean = &mean
	median := stat.Quantile(0.5, stat.Empirical, xs, nil)
	s.Median = &median
	if len(xs) > 1 {
		std := stat.StdDev(xs, nil)
		s.Std = &std
	}
	quantile := func(p float64) *float64 {
		q := stat.Quantile(p, stat.Empirical, xs, nil)
		return &q
	}
	s.P5, s.P25, s.P75, s.P95 = quantile(0.05), quantile(0.25), quantile(0.75), quantile(0.95)
}

func uniqueCount(values []any) *int {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[fmt.Sprintf("%T:%v", v, v)] = struct{}{}
	}
	n := len(seen)
	return &n
}
