package protocol

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/haskel/branchsim/internal/predictor"
	"github.com/haskel/branchsim/internal/simulation"
	"github.com/haskel/branchsim/internal/trace"
)

var (
	ErrProtocolViolation = errors.New("protocol violation")
	ErrFrameTooLarge     = fmt.Errorf("%w: frame too large", ErrProtocolViolation)
)

// Payloads use the protobuf wire format. Field numbers per message:
//
//	ClientName:    1 name
//	TaskRequest:   1 session_id
//	AbortSession:  1 session_id
//	NewSession:    1 session_id, 2 conditional_only, 3 branches_to_skip
//	Task:          1 task_id, 2 session_id, 3 job
//	Result:        1 task_id, 2 session_id, 3 stats
//	job:           1 predictor, 2 benchmark
//	predictor:     1 kind, 2 description, 3 args (repeated)
//	arg:           1 int (sint64) | 2 bool | 3 double | 4 string
//	benchmark:     1 name, 2 family
//	stats:         1 benchmark, 2 correct, 3 incorrect, 4 accuracy, 5 error

// Encode returns the payload of m.
func Encode(m Message) []byte {
	return m.appendPayload(nil)
}

// Decode parses the payload of a frame with the given tag.
func Decode(tag Tag, payload []byte) (Message, error) {
	var (
		m   Message
		err error
	)
	switch tag {
	case TagClientName:
		m, err = decodeClientName(payload)
	case TagTaskRequest:
		var id uint32
		id, err = decodeSessionID(payload)
		m = TaskRequest{SessionID: id}
	case TagAbortSession:
		var id uint32
		id, err = decodeSessionID(payload)
		m = AbortSession{SessionID: id}
	case TagNewSession:
		m, err = decodeNewSession(payload)
	case TagTask:
		m, err = decodeTask(payload)
	case TagResult:
		m, err = decodeResult(payload)
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrProtocolViolation, byte(tag))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrProtocolViolation, tag, err)
	}
	return m, nil
}

func (m ClientName) appendPayload(b []byte) []byte {
	return appendString(b, 1, m.Name)
}

func (m TaskRequest) appendPayload(b []byte) []byte {
	return appendUint(b, 1, uint64(m.SessionID))
}

func (m AbortSession) appendPayload(b []byte) []byte {
	return appendUint(b, 1, uint64(m.SessionID))
}

func (m NewSession) appendPayload(b []byte) []byte {
	b = appendUint(b, 1, uint64(m.Session.ID))
	b = appendBool(b, 2, m.Session.Options.ConditionalOnly)
	b = appendUint(b, 3, uint64(m.Session.Options.BranchesToSkip))
	return b
}

func (m TaskMessage) appendPayload(b []byte) []byte {
	b = appendUint(b, 1, uint64(m.Task.ID))
	b = appendUint(b, 2, uint64(m.Task.SessionID))
	b = appendNested(b, 3, func(b []byte) []byte { return appendJob(b, m.Task.Job) })
	return b
}

func (m ResultMessage) appendPayload(b []byte) []byte {
	b = appendUint(b, 1, uint64(m.Result.TaskID))
	b = appendUint(b, 2, uint64(m.Result.SessionID))
	b = appendNested(b, 3, func(b []byte) []byte { return appendStats(b, m.Result.Stats) })
	return b
}

func appendJob(b []byte, j simulation.Job) []byte {
	b = appendNested(b, 1, func(b []byte) []byte {
		b = appendString(b, 1, string(j.Predictor.Kind))
		b = appendString(b, 2, j.Predictor.Description)
		for _, a := range j.Predictor.Args {
			arg := a
			b = appendNested(b, 3, func(b []byte) []byte { return appendArg(b, arg) })
		}
		return b
	})
	b = appendNested(b, 2, func(b []byte) []byte { return appendBenchmark(b, j.Benchmark) })
	return b
}

func appendArg(b []byte, a any) []byte {
	switch v := a.(type) {
	case int64:
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
	case bool:
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		return protowire.AppendVarint(b, protowire.EncodeBool(v))
	case float64:
		b = protowire.AppendTag(b, 3, protowire.Fixed64Type)
		return protowire.AppendFixed64(b, math.Float64bits(v))
	case string:
		return appendString(b, 4, v)
	default:
		// predictor.NewConfig normalizes argument types; anything else is
		// sent as its string form
		return appendString(b, 4, fmt.Sprint(v))
	}
}

func appendBenchmark(b []byte, bm trace.Benchmark) []byte {
	b = appendString(b, 1, bm.Name)
	b = appendUint(b, 2, uint64(bm.Family))
	return b
}

func appendStats(b []byte, s simulation.Stats) []byte {
	b = appendNested(b, 1, func(b []byte) []byte { return appendBenchmark(b, s.Benchmark) })
	b = appendUint(b, 2, s.Correct)
	b = appendUint(b, 3, s.Incorrect)
	b = protowire.AppendTag(b, 4, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(s.Accuracy))
	b = appendString(b, 5, s.Err)
	return b
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendUint(b, num, protowire.EncodeBool(v))
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendNested(b []byte, num protowire.Number, fn func([]byte) []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, fn(nil))
}

// field is one decoded key/value pair. Exactly one of the value fields is
// meaningful, according to typ.
type field struct {
	num   protowire.Number
	typ   protowire.Type
	u     uint64
	bytes []byte
}

// walk calls fn for every field in b. Unknown fields are passed through and
// may be ignored by fn.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.u, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.u = uint64(v)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) expect(typ protowire.Type) error {
	if f.typ != typ {
		return fmt.Errorf("field %d: unexpected wire type %d", f.num, f.typ)
	}
	return nil
}

func (f field) uint32() (uint32, error) {
	if err := f.expect(protowire.VarintType); err != nil {
		return 0, err
	}
	if f.u > math.MaxUint32 {
		return 0, fmt.Errorf("field %d: value %d overflows uint32", f.num, f.u)
	}
	return uint32(f.u), nil
}

func decodeClientName(b []byte) (ClientName, error) {
	var m ClientName
	err := walk(b, func(f field) error {
		if f.num == 1 {
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			m.Name = string(f.bytes)
		}
		return nil
	})
	return m, err
}

func decodeSessionID(b []byte) (uint32, error) {
	var id uint32
	err := walk(b, func(f field) error {
		if f.num == 1 {
			v, err := f.uint32()
			if err != nil {
				return err
			}
			id = v
		}
		return nil
	})
	return id, err
}

func decodeNewSession(b []byte) (NewSession, error) {
	var s simulation.Session
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			s.ID, err = f.uint32()
		case 2:
			if err = f.expect(protowire.VarintType); err == nil {
				s.Options.ConditionalOnly = protowire.DecodeBool(f.u)
			}
		case 3:
			s.Options.BranchesToSkip, err = f.uint32()
		}
		return err
	})
	return NewSession{Session: s}, err
}

func decodeTask(b []byte) (TaskMessage, error) {
	var t simulation.Task
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			t.ID, err = f.uint32()
		case 2:
			t.SessionID, err = f.uint32()
		case 3:
			if err = f.expect(protowire.BytesType); err == nil {
				t.Job, err = decodeJob(f.bytes)
			}
		}
		return err
	})
	return TaskMessage{Task: t}, err
}

func decodeResult(b []byte) (ResultMessage, error) {
	var r simulation.Result
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			r.TaskID, err = f.uint32()
		case 2:
			r.SessionID, err = f.uint32()
		case 3:
			if err = f.expect(protowire.BytesType); err == nil {
				r.Stats, err = decodeStats(f.bytes)
			}
		}
		return err
	})
	return ResultMessage{Result: r}, err
}

func decodeJob(b []byte) (simulation.Job, error) {
	var j simulation.Job
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			cfg, err := decodePredictorConfig(f.bytes)
			if err != nil {
				return err
			}
			j.Predictor = cfg
		case 2:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			bm, err := decodeBenchmark(f.bytes)
			if err != nil {
				return err
			}
			j.Benchmark = bm
		}
		return nil
	})
	return j, err
}

func decodePredictorConfig(b []byte) (predictor.Config, error) {
	var (
		kind, description string
		args              []any
	)
	err := walk(b, func(f field) error {
		switch f.num {
		case 1, 2, 3:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
		}
		switch f.num {
		case 1:
			kind = string(f.bytes)
		case 2:
			description = string(f.bytes)
		case 3:
			a, err := decodeArg(f.bytes)
			if err != nil {
				return err
			}
			args = append(args, a)
		}
		return nil
	})
	if err != nil {
		return predictor.Config{}, err
	}
	return predictor.NewConfig(predictor.Kind(kind), description, args...), nil
}

func decodeArg(b []byte) (any, error) {
	var v any
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			if err := f.expect(protowire.VarintType); err != nil {
				return err
			}
			v = protowire.DecodeZigZag(f.u)
		case 2:
			if err := f.expect(protowire.VarintType); err != nil {
				return err
			}
			v = protowire.DecodeBool(f.u)
		case 3:
			if err := f.expect(protowire.Fixed64Type); err != nil {
				return err
			}
			v = math.Float64frombits(f.u)
		case 4:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			v = string(f.bytes)
		}
		return nil
	})
	if err == nil && v == nil {
		err = errors.New("empty predictor argument")
	}
	return v, err
}

func decodeBenchmark(b []byte) (trace.Benchmark, error) {
	var bm trace.Benchmark
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			bm.Name = string(f.bytes)
		case 2:
			v, err := f.uint32()
			if err != nil {
				return err
			}
			bm.Family = trace.Family(v)
		}
		return nil
	})
	return bm, err
}

func decodeStats(b []byte) (simulation.Stats, error) {
	var s simulation.Stats
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			bm, err := decodeBenchmark(f.bytes)
			if err != nil {
				return err
			}
			s.Benchmark = bm
		case 2:
			if err := f.expect(protowire.VarintType); err != nil {
				return err
			}
			s.Correct = f.u
		case 3:
			if err := f.expect(protowire.VarintType); err != nil {
				return err
			}
			s.Incorrect = f.u
		case 4:
			if err := f.expect(protowire.Fixed64Type); err != nil {
				return err
			}
			s.Accuracy = math.Float64frombits(f.u)
		case 5:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			s.Err = string(f.bytes)
		}
		return nil
	})
	return s, err
}
