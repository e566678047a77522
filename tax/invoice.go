package tax

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paywise/sendgate"
	"github.com/thanhpk/randstr"
)

// InvoicePrefix starts every invoice number.
const InvoicePrefix = "PW"

const (
	suffixLen      = 4
	base36Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// SuffixFunc returns n base36 characters.
type SuffixFunc func(n int) string

// RandomSuffix draws n characters from the base36 alphabet using crypto/rand.
func RandomSuffix(n int) string {
	return randstr.String(n, base36Alphabet)
}

// Base36 renders v in upper-case base36, left-padded with zeros to width and
// truncated to its last width characters.
func Base36(v int64, width int) string {
	s := strings.ToUpper(strconv.FormatInt(v, 36))
	if len(s) < width {
		s = strings.Repeat("0", width-len(s)) + s
	}
	return s[len(s)-width:]
}

// NextInvoiceNumber formats PW<year><13-digit epoch ms><4-char base36>.
// Uniqueness is probabilistic: millisecond resolution plus a random suffix.
func NextInvoiceNumber(now time.Time, suffix SuffixFunc) string {
	if suffix == nil {
		suffix = RandomSuffix
	}
	return fmt.Sprintf("%s%04d%013d%s", InvoicePrefix, now.UTC().Year(), now.UnixMilli(), fitSuffix(suffix(suffixLen)))
}

func fitSuffix(s string) string {
	s = strings.ToUpper(s)
	if len(s) < suffixLen {
		s += strings.Repeat("0", suffixLen-len(s))
	}
	return s[:suffixLen]
}

// Sequencer mints invoice numbers whose epoch-ms component strictly increases
// within the process, so numbers sort in issue order even when two are minted
// in the same millisecond.
type Sequencer struct {
	clock  sendgate.Clock
	suffix SuffixFunc

	mu     sync.Mutex
	lastMs int64
}

var _ sendgate.InvoiceNumberer = (*Sequencer)(nil)

// NewSequencer creates a Sequencer. A nil suffix uses RandomSuffix.
func NewSequencer(clock sendgate.Clock, suffix SuffixFunc) *Sequencer {
	if clock == nil {
		clock = sendgate.SystemClock{}
	}
	if suffix == nil {
		suffix = RandomSuffix
	}
	return &Sequencer{clock: clock, suffix: suffix}
}

// Next returns a new invoice number.
func (s *Sequencer) Next() string {
	s.mu.Lock()
	ms := s.clock.Now().UnixMilli()
	if ms <= s.lastMs {
		ms = s.lastMs + 1
	}
	s.lastMs = ms
	s.mu.Unlock()

	return NextInvoiceNumber(time.UnixMilli(ms), s.suffix)
}
