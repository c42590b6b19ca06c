package cron

import (
	"testing"

	"github.com/robfig/cron/v3"
)

// Configuration is validated with cron.ParseStandard while the scheduler
// uses Parser. Both must agree on every expression.
func FuzzParserMatchesValidation(f *testing.F) {
	for _, seed := range []string{
		"*/5 * * * *", "0 3 * * 1-5", "@hourly", "@every 5m",
		"", "invalid", "61 * * * *", "* * * * * *",
	} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, expr string) {
		_, perr := Parser.Parse(expr)
		_, serr := cron.ParseStandard(expr)
		if (perr == nil) != (serr == nil) {
			t.Fatalf("%q: Parser err = %v, ParseStandard err = %v", expr, perr, serr)
		}
	})
}
