package flows

import (
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/yhwhpe/unrug-agent/chain"
	"github.com/yhwhpe/unrug-agent/form"
)

// LiquidityLock is how long launch liquidity stays locked.
type LiquidityLock struct {
	Forever bool
	Months  int
}

func (l LiquidityLock) String() string {
	if l.Forever {
		return "Forever"
	}
	return strconv.Itoa(l.Months) + " months"
}

func l2Address(message string) func(string) (string, error) {
	return func(raw string) (string, error) {
		raw = strings.TrimSpace(raw)
		if !chain.IsL2Address(raw) {
			return "", form.Invalid(message)
		}
		return raw, nil
	}
}

// wholeAmount keeps the digits of raw, so "1,000,000" and "1 000 000" both
// read as a million.
func wholeAmount(message string) func(string) (*big.Int, error) {
	return func(raw string) (*big.Int, error) {
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, raw)
		v, ok := new(big.Int).SetString(digits, 10)
		if !ok || v.Sign() <= 0 {
			return nil, form.Invalid(message)
		}
		return v, nil
	}
}

// clock parses an "hh:mm" duration within [min, max].
func clock(min, max time.Duration, message string) func(string) (time.Duration, error) {
	return func(raw string) (time.Duration, error) {
		hh, mm, ok := strings.Cut(strings.TrimSpace(raw), ":")
		if !ok {
			return 0, form.Invalid(message)
		}
		hours, err := strconv.Atoi(hh)
		if err != nil || hours < 0 {
			return 0, form.Invalid(message)
		}
		minutes, err := strconv.Atoi(mm)
		if err != nil || minutes < 0 || minutes > 59 {
			return 0, form.Invalid(message)
		}
		d := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
		if d < min || d > max {
			return 0, form.Invalid(message)
		}
		return d, nil
	}
}

func marketCap(message string) func(string) (float64, error) {
	cleaner := strings.NewReplacer("$", "", ",", "", " ", "")
	return func(raw string) (float64, error) {
		v, err := strconv.ParseFloat(cleaner.Replace(strings.TrimSpace(raw)), 64)
		if err != nil || !(v > 0) || v > 1e15 {
			return 0, form.Invalid(message)
		}
		return v, nil
	}
}

func liquidityLock(min, max int, message string) func(string) (LiquidityLock, error) {
	return func(raw string) (LiquidityLock, error) {
		raw = strings.ToLower(strings.TrimSpace(raw))
		if raw == "forever" {
			return LiquidityLock{Forever: true}, nil
		}
		months, err := strconv.Atoi(raw)
		if err != nil || months < min || months > max {
			return LiquidityLock{}, form.Invalid(message)
		}
		return LiquidityLock{Months: months}, nil
	}
}
