package main

import (
	"log/slog"

	"github.com/dustin/go-humanize"
)

// progressLogger returns a Flash.OnProgress hook logging at Info level every
// tenth of the way through an operation.
func progressLogger(l *slog.Logger) func(op string, done, total int) {
	last := map[string]int{}
	return func(op string, done, total int) {
		if total <= 0 {
			return
		}
		step := done * 10 / total
		if step == last[op] && done < total {
			return
		}
		last[op] = step
		if done >= total {
			delete(last, op)
		}
		l.Info(op,
			"done", humanize.IBytes(uint64(done)),
			"total", humanize.IBytes(uint64(total)),
			"percent", done*100/total,
		)
	}
}
