package trace

import (
	"errors"
	"fmt"
	"strings"
)

// Family identifies the benchmark suite a trace file belongs to.
type Family int

const (
	FamilyStanford Family = iota
	FamilySPEC2000
	FamilyCBP2
)

var familyNames = map[Family]string{
	FamilyStanford: "stanford",
	FamilySPEC2000: "spec2000",
	FamilyCBP2:     "cbp2",
}

func (f Family) String() string {
	if name, ok := familyNames[f]; ok {
		return name
	}
	return fmt.Sprintf("family(%d)", int(f))
}

// ParseFamily converts a family name (case insensitive) to a Family.
func ParseFamily(s string) (Family, error) {
	for f, name := range familyNames {
		if strings.EqualFold(name, s) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown trace family: %q", s)
}

// Benchmark identifies one trace. It is a comparable value and is used
// directly as a map key.
type Benchmark struct {
	Name   string
	Family Family
}

func (b Benchmark) String() string {
	return b.Family.String() + ":" + b.Name
}

// ParseBenchmark parses "family:name". A bare name is a Stanford trace.
func ParseBenchmark(s string) (Benchmark, error) {
	family, name, found := strings.Cut(s, ":")
	if !found {
		if s == "" {
			return Benchmark{}, errors.New("empty benchmark name")
		}
		return Benchmark{Name: s, Family: FamilyStanford}, nil
	}
	f, err := ParseFamily(family)
	if err != nil {
		return Benchmark{}, err
	}
	if name == "" {
		return Benchmark{}, errors.New("empty benchmark name")
	}
	return Benchmark{Name: name, Family: f}, nil
}

// Branch flags.
const (
	FlagConditional uint32 = 1 << iota
	FlagIndirect
	FlagCall
	FlagReturn
)

// Branch is one dynamic branch read from a trace.
type Branch struct {
	Address uint32
	Target  uint32
	Flags   uint32
	Taken   bool
}

func (b Branch) Conditional() bool {
	return b.Flags&FlagConditional != 0
}

// StanfordTraces lists the trace files shipped with the Stanford suite.
var StanfordTraces = []string{
	"fbubble.tra",
	"fmatrix.tra",
	"fperm.tra",
	"fpuzzle.tra",
	"fqueens.tra",
	"fsort.tra",
	"ftower.tra",
	"ftree.tra",
}
