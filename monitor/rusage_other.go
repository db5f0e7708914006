//go:build !linux

package monitor

// rusage is a stub on platforms without syscall.Rusage's Linux field set;
// the monitor still runs, it just reports zeroed process stats.
type rusage struct{}

func getRusage() rusage { return rusage{} }

func diffRusage(current, previous rusage) rusage { return rusage{} }
