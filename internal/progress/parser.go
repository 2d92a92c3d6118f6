package progress

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoMatch is returned for lines that are not progress lines at all.
	ErrNoMatch = errors.New("not a progress line")
	// ErrMalformed is returned when a line has the progress shape but one of
	// its numeric fields cannot be converted.
	ErrMalformed = errors.New("malformed progress line")
)

// Example rsync progress lines:
//
//	823,915,288  35%   36.65MB/s    0:00:40
//	  1,238,099 100%  146.38MB/s    0:00:00 (xfr#1, to-chk=0/1)
//	     32.77K  10%   31.25kB/s    0:00:09
var (
	progressLineRegexp = regexp.MustCompile(
		`^\s*(?P<bytes>[0-9][0-9,.']*[KMGTP]?)\s+(?P<percent>[0-9.]+)%\s+(?P<rate>\S+)(?:\s+(?P<eta>\S+))?(?P<rest>.*)$`)
	rateRegexp    = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)([A-Za-z]*)/s$`)
	etaRegexp     = regexp.MustCompile(`^(\d+):(\d\d):(\d\d)$`)
	xfrRegexp     = regexp.MustCompile(`(?:xfr|xfer)#(\d+)`)
	toCheckRegexp = regexp.MustCompile(`to-(?:chk|check)=(\d+)/(\d+)`)
)

// UnitConvention selects the multiplier used for k/M/G rate prefixes.
type UnitConvention string

const (
	UnitsDecimal UnitConvention = "decimal"
	UnitsBinary  UnitConvention = "binary"
)

func ParseUnitConvention(value string) (UnitConvention, error) {
	switch UnitConvention(strings.ToLower(strings.TrimSpace(value))) {
	case UnitsDecimal, "1000", "si":
		return UnitsDecimal, nil
	case UnitsBinary, "1024", "iec":
		return UnitsBinary, nil
	}
	return "", fmt.Errorf("unknown unit convention %q", value)
}

func (u UnitConvention) base() float64 {
	if u == UnitsBinary {
		return 1024
	}
	return 1000
}

// multiplier returns the factor converting a value with the given prefix
// into bytes. IEC prefixes (KiB, MiB...) are always binary.
func (u UnitConvention) multiplier(prefix string) (float64, bool) {
	base := u.base()
	p := strings.TrimSuffix(strings.TrimSuffix(prefix, "B"), "b")
	if strings.HasSuffix(p, "i") {
		base = 1024
		p = strings.TrimSuffix(p, "i")
	}
	switch strings.ToUpper(p) {
	case "":
		return 1, true
	case "K":
		return base, true
	case "M":
		return base * base, true
	case "G":
		return base * base * base, true
	case "T":
		return base * base * base * base, true
	case "P":
		return base * base * base * base * base, true
	}
	return 0, false
}

// Sample is a single parsed progress update.
type Sample struct {
	Timestamp        time.Time
	BytesTransferred uint64
	RateBytesPerSec  float64
	PercentComplete  float64
	// ETA is nil when the tool did not report a usable estimate.
	ETA *time.Duration
	// Transfers and ToCheck/Total are only set when the line carries the
	// "(xfr#N, to-chk=R/T)" trailer.
	Transfers int
	ToCheck   int
	Total     int
}

// ParseError describes why a line did not yield a sample. It matches
// ErrNoMatch or ErrMalformed with errors.Is.
type ParseError struct {
	Kind  error
	Line  string
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %q", e.Kind, e.Line)
	}
	return fmt.Sprintf("%v: field %s in %q: %v", e.Kind, e.Field, e.Line, e.Err)
}

func (e *ParseError) Is(target error) bool {
	return target == e.Kind
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parser turns progress updates into samples.
type Parser struct {
	units UnitConvention
}

func NewParser(units UnitConvention) *Parser {
	if units == "" {
		units = UnitsDecimal
	}
	return &Parser{units: units}
}

func (p *Parser) Units() UnitConvention {
	return p.units
}

// Parse extracts a sample stamped with the given time from one update.
func (p *Parser) Parse(line string, at time.Time) (Sample, error) {
	match := progressLineRegexp.FindStringSubmatch(line)
	if match == nil {
		return Sample{}, &ParseError{Kind: ErrNoMatch, Line: line}
	}
	group := func(name string) string {
		return match[progressLineRegexp.SubexpIndex(name)]
	}

	bytesTransferred, err := p.parseBytes(group("bytes"))
	if err != nil {
		return Sample{}, &ParseError{Kind: ErrMalformed, Line: line, Field: "bytes", Err: err}
	}
	percent, err := strconv.ParseFloat(group("percent"), 64)
	if err != nil {
		return Sample{}, &ParseError{Kind: ErrMalformed, Line: line, Field: "percent", Err: err}
	}
	rate, err := p.ParseRate(group("rate"))
	if err != nil {
		return Sample{}, &ParseError{Kind: ErrMalformed, Line: line, Field: "rate", Err: err}
	}

	sample := Sample{
		Timestamp:        at,
		BytesTransferred: bytesTransferred,
		RateBytesPerSec:  rate,
		PercentComplete:  clampPercent(percent),
		ETA:              parseETA(group("eta")),
	}
	rest := group("rest")
	if m := xfrRegexp.FindStringSubmatch(rest); m != nil {
		sample.Transfers, _ = strconv.Atoi(m[1])
	}
	if m := toCheckRegexp.FindStringSubmatch(rest); m != nil {
		sample.ToCheck, _ = strconv.Atoi(m[1])
		sample.Total, _ = strconv.Atoi(m[2])
	}
	return sample, nil
}

// ParseRate converts a rate such as "36.65MB/s" into bytes per second.
func (p *Parser) ParseRate(value string) (float64, error) {
	m := rateRegexp.FindStringSubmatch(value)
	if m == nil {
		return 0, fmt.Errorf("cannot parse rate %q", value)
	}
	number, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, err
	}
	mult, ok := p.units.multiplier(m[2])
	if !ok {
		return 0, fmt.Errorf("unknown rate unit %q", m[2])
	}
	return number * mult, nil
}

func (p *Parser) parseBytes(value string) (uint64, error) {
	suffix := value[len(value)-1:]
	if strings.ContainsAny(suffix, "KMGTP") {
		// --human-readable output, e.g. "32.77K"
		number, err := strconv.ParseFloat(value[:len(value)-1], 64)
		if err != nil {
			return 0, err
		}
		mult, ok := p.units.multiplier(suffix)
		if !ok {
			return 0, fmt.Errorf("unknown size suffix %q", suffix)
		}
		total := math.Round(number * mult)
		if math.IsNaN(total) || math.IsInf(total, 0) || total < 0 || total >= math.MaxUint64 {
			return 0, fmt.Errorf("byte count %q out of range", value)
		}
		return uint64(total), nil
	}
	digits := strings.NewReplacer(",", "", ".", "", "'", "").Replace(value)
	return strconv.ParseUint(digits, 10, 64)
}

// largest hour count a time.Duration can hold
const maxETAHours = int(math.MaxInt64 / int64(time.Hour))

func parseETA(value string) *time.Duration {
	m := etaRegexp.FindStringSubmatch(value)
	if m == nil {
		return nil
	}
	hours, err := strconv.Atoi(m[1])
	if err != nil || hours > maxETAHours {
		return nil
	}
	minutes, err := strconv.Atoi(m[2])
	if err != nil {
		return nil
	}
	seconds, err := strconv.Atoi(m[3])
	if err != nil {
		return nil
	}
	eta := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second
	return &eta
}

func clampPercent(value float64) float64 {
	switch {
	case math.IsNaN(value) || value < 0:
		return 0
	case value > 100:
		return 100
	}
	return value
}
