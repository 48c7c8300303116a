package predictor

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/haskel/branchsim/internal/trace"
)

var (
	ErrUnknownKind        = errors.New("unknown predictor kind")
	ErrConstruction       = errors.New("predictor construction failed")
	ErrOutOfResources     = errors.New("predictor exceeds memory budget")
	ErrInvariantViolation = errors.New("predictor pool invariant violated")
)

// Predictor is a stateful, non-reentrant branch predictor. Predict and
// Update are called in pairs for every simulated branch.
type Predictor interface {
	Predict(b trace.Branch) bool
	Update(b trace.Branch)
	Reset()
}

// ParamType is the value type of a predictor parameter.
type ParamType int

const (
	ParamInt ParamType = iota
	ParamBool
)

// Param describes one positional constructor argument.
type Param struct {
	Name    string
	Display string
	Type    ParamType
	Default any
	Min     int64
	Max     int64
}

// Args is a validated argument list.
type Args []any

func (a Args) Int(i int) int {
	return int(a[i].(int64))
}

func (a Args) Bool(i int) bool {
	return a[i].(bool)
}

// Spec registers one predictor kind.
type Spec struct {
	Kind   Kind
	Name   string
	Help   string
	Params []Param

	// TableBytes estimates the memory a predictor with args allocates.
	TableBytes func(args Args) int64
	Build      func(args Args) Predictor
}

var registry = map[Kind]Spec{}

// Register adds a kind to the registry. It panics on duplicates since
// registration happens from init functions.
func Register(s Spec) {
	if _, exists := registry[s.Kind]; exists {
		panic(fmt.Sprintf("predictor kind %q registered twice", s.Kind))
	}
	registry[s.Kind] = s
}

// Lookup returns the spec registered for kind.
func Lookup(kind Kind) (Spec, error) {
	s, ok := registry[kind]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return s, nil
}

// Kinds returns all registered specs sorted by kind.
func Kinds() []Spec {
	specs := make([]Spec, 0, len(registry))
	for _, s := range registry {
		specs = append(specs, s)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Kind < specs[j].Kind })
	return specs
}

// New validates cfg and constructs a fresh predictor. A positive budget
// caps the table size in bytes.
func New(cfg Config, budget int64) (Predictor, error) {
	spec, err := Lookup(cfg.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConstruction, err)
	}
	args, err := spec.validate(cfg.Args)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConstruction, cfg.Kind, err)
	}
	if budget > 0 && spec.TableBytes != nil {
		if size := spec.TableBytes(args); size > budget {
			return nil, fmt.Errorf("%w: %s needs %d bytes, budget is %d", ErrOutOfResources, cfg.Description, size, budget)
		}
	}
	return spec.Build(args), nil
}

func (s Spec) validate(raw []any) (Args, error) {
	if len(raw) != len(s.Params) {
		return nil, fmt.Errorf("expected %d arguments, got %d", len(s.Params), len(raw))
	}
	args := make(Args, len(raw))
	for i, p := range s.Params {
		v := normalizeArg(raw[i])
		switch p.Type {
		case ParamInt:
			n, ok := v.(int64)
			if !ok {
				return nil, fmt.Errorf("%s: expected integer, got %T", p.Name, raw[i])
			}
			if n < p.Min || n > p.Max {
				return nil, fmt.Errorf("%s: %d out of range [%d, %d]", p.Name, n, p.Min, p.Max)
			}
		case ParamBool:
			if _, ok := v.(bool); !ok {
				return nil, fmt.Errorf("%s: expected bool, got %T", p.Name, raw[i])
			}
		}
		args[i] = v
	}
	return args, nil
}

// Describe renders the display description of a configuration, e.g.
// "GAg (History length = 8, Counter bits = 3)".
func (s Spec) Describe(args []any) string {
	if len(args) == 0 {
		return s.Name
	}
	parts := make([]string, len(args))
	for i, a := range args {
		label := fmt.Sprintf("arg%d", i)
		if i < len(s.Params) {
			label = s.Params[i].Display
		}
		parts[i] = fmt.Sprintf("%s = %v", label, a)
	}
	return fmt.Sprintf("%s (%s)", s.Name, strings.Join(parts, ", "))
}

// Expand returns one Config per combination of the candidate values, in
// order: the last parameter varies fastest.
func (s Spec) Expand(values [][]any) []Config {
	if len(values) != len(s.Params) {
		return nil
	}
	for _, v := range values {
		if len(v) == 0 {
			return nil
		}
	}

	var configs []Config
	current := make([]any, len(values))
	var walk func(i int)
	walk = func(i int) {
		if i == len(values) {
			args := make([]any, len(current))
			copy(args, current)
			configs = append(configs, NewConfig(s.Kind, s.Describe(args), args...))
			return
		}
		for _, v := range values[i] {
			current[i] = v
			walk(i + 1)
		}
	}
	walk(0)
	return configs
}

// ParseSpec parses "kind[:a,b,c]" where each positional argument may list
// alternatives separated by '|' ("gag:4|8,8,3"). Missing arguments take the
// parameter default. The result is the expanded set of configurations.
func ParseSpec(text string) ([]Config, error) {
	kindText, argText, _ := strings.Cut(strings.TrimSpace(text), ":")
	spec, err := Lookup(Kind(strings.ToLower(kindText)))
	if err != nil {
		return nil, err
	}

	var fields []string
	if argText != "" {
		fields = strings.Split(argText, ",")
	}
	if len(fields) > len(spec.Params) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", spec.Kind, len(spec.Params), len(fields))
	}

	values := make([][]any, len(spec.Params))
	for i, p := range spec.Params {
		if i >= len(fields) || strings.TrimSpace(fields[i]) == "" {
			values[i] = []any{normalizeArg(p.Default)}
			continue
		}
		for _, alt := range strings.Split(fields[i], "|") {
			v, err := parseParamValue(p, strings.TrimSpace(alt))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", spec.Kind, err)
			}
			values[i] = append(values[i], v)
		}
	}
	return spec.Expand(values), nil
}

func parseParamValue(p Param, text string) (any, error) {
	switch p.Type {
	case ParamBool:
		switch strings.ToLower(text) {
		case "true", "taken", "t", "1":
			return true, nil
		case "false", "not-taken", "f", "0":
			return false, nil
		}
		return nil, fmt.Errorf("%s: invalid bool %q", p.Name, text)
	default:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid integer %q", p.Name, text)
		}
		return n, nil
	}
}
