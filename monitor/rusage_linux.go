//go:build linux

package monitor

import "syscall"

// rusage mirrors the attribute set monitoring.py reports, diffed between
// samples. getrusage has no third-party wrapper in the example pack, so it
// stays on the syscall package directly.
type rusage struct {
	UTime    float64 `json:"utime"`
	STime    float64 `json:"stime"`
	MaxRSS   int64   `json:"maxrss"`
	IxRSS    int64   `json:"ixrss"`
	IdRSS    int64   `json:"idrss"`
	IsRSS    int64   `json:"isrss"`
	MinFlt   int64   `json:"minflt"`
	MajFlt   int64   `json:"majflt"`
	NSwap    int64   `json:"nswap"`
	InBlock  int64   `json:"inblock"`
	OuBlock  int64   `json:"oublock"`
	MsgSnd   int64   `json:"msgsnd"`
	MsgRcv   int64   `json:"msgrcv"`
	NSignals int64   `json:"nsignals"`
	NvCsw    int64   `json:"nvcsw"`
	NivCsw   int64   `json:"nivcsw"`
}

func getRusage() rusage {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return rusage{}
	}
	return rusage{
		UTime:    timevalSeconds(ru.Utime),
		STime:    timevalSeconds(ru.Stime),
		MaxRSS:   ru.Maxrss,
		IxRSS:    ru.Ixrss,
		IdRSS:    ru.Idrss,
		IsRSS:    ru.Isrss,
		MinFlt:   ru.Minflt,
		MajFlt:   ru.Majflt,
		NSwap:    ru.Nswap,
		InBlock:  ru.Inblock,
		OuBlock:  ru.Oublock,
		MsgSnd:   ru.Msgsnd,
		MsgRcv:   ru.Msgrcv,
		NSignals: ru.Nsignals,
		NvCsw:    ru.Nvcsw,
		NivCsw:   ru.Nivcsw,
	}
}

func timevalSeconds(tv syscall.Timeval) float64 {
	return float64(tv.Sec) + float64(tv.Usec)/1e6
}

func diffRusage(current, previous rusage) rusage {
	return rusage{
		UTime:    current.UTime - previous.UTime,
		STime:    current.STime - previous.STime,
		MaxRSS:   current.MaxRSS - previous.MaxRSS,
		IxRSS:    current.IxRSS - previous.IxRSS,
		IdRSS:    current.IdRSS - previous.IdRSS,
		IsRSS:    current.IsRSS - previous.IsRSS,
		MinFlt:   current.MinFlt - previous.MinFlt,
		MajFlt:   current.MajFlt - previous.MajFlt,
		NSwap:    current.NSwap - previous.NSwap,
		InBlock:  current.InBlock - previous.InBlock,
		OuBlock:  current.OuBlock - previous.OuBlock,
		MsgSnd:   current.MsgSnd - previous.MsgSnd,
		MsgRcv:   current.MsgRcv - previous.MsgRcv,
		NSignals: current.NSignals - previous.NSignals,
		NvCsw:    current.NvCsw - previous.NvCsw,
		NivCsw:   current.NivCsw - previous.NivCsw,
	}
}
