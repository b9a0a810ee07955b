package cron

import (
	"testing"

	"github.com/robfig/cron/v3"
)

func FuzzScheduleExpression(f *testing.F) {
	f.Add("* * * * *")     // cache janitor
	f.Add("0 3 * * *")     // request log prune
	f.Add("*/5 * * * *")
	f.Add("0 0 1 1 *")
	f.Add("invalid")
	f.Add("")
	f.Add("60 * * * *")
	f.Add("0 25 * * *")

	f.Fuzz(func(_ *testing.T, expr string) {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		// A malformed schedule must return an error, never panic.
		_, _ = parser.Parse(expr)
	})
}
