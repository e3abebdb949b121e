// Package chunking assigns chunk boundaries to a file from its definition spans.
//
// The assigner walks definitions in source order and grows a pending chunk
// until the next definition no longer fits, then flushes. A pending chunk
// holding no definition is never flushed on its own; it is carried into the
// next definition's split or class descent. Oversized
// definitions are split into near-equal pieces; oversized classes are
// descended into and chunked by their nested definitions. The emitted ranges
// exactly partition the file's lines.
package chunking

import (
	"fmt"
	"sort"

	"github.com/spetr/mcp-chunkgraph/builtin/chunking/simple"
	"github.com/spetr/mcp-chunkgraph/pkg/types"
)

// Default values
const (
	DefaultMaxLines      = 100
	DefaultMinProportion = 0.2
)

// Config controls chunk sizing.
type Config struct {
	MaxLines      int     // Upper bound on chunk size in lines
	MinProportion float64 // Fraction of MaxLines below which a chunk is considered too small
}

// ExpectedMin returns MaxLines * MinProportion.
func (c Config) ExpectedMin() float64 {
	return float64(c.MaxLines) * c.MinProportion
}

func (c Config) withDefaults() Config {
	if c.MaxLines <= 0 {
		c.MaxLines = DefaultMaxLines
	}
	if c.MinProportion < 0 {
		c.MinProportion = 0
	}
	return c
}

// Result holds the chunk ranges of one file.
type Result struct {
	Ranges   []types.LineRange
	Fallback bool // true when the ranges come from plain line partitioning
}

// Fallback partitions lineCount lines into near-equal chunks without
// regard to syntax.
func Fallback(lineCount int, cfg Config) Result {
	cfg = cfg.withDefaults()
	return Result{Ranges: simple.Partition(lineCount, cfg.MaxLines), Fallback: true}
}

// Assign computes chunk boundaries for a file with lineCount lines.
// A file without usable definitions falls back to line partitioning.
func Assign(lineCount int, defs []types.Definition, cfg Config) Result {
	cfg = cfg.withDefaults()
	defs = normalize(defs, lineCount)
	if lineCount <= 0 || len(defs) == 0 {
		return Fallback(lineCount, cfg)
	}

	m := &machine{cfg: cfg, lineCount: lineCount, defs: defs}
	m.run()
	return Result{Ranges: m.out}
}

// normalize clamps spans to the file and orders them by start line,
// enclosing spans first.
func normalize(defs []types.Definition, lineCount int) []types.Definition {
	out := make([]types.Definition, 0, len(defs))
	for _, d := range defs {
		if d.StartLine < 0 {
			d.StartLine = 0
		}
		if d.EndLine >= lineCount {
			d.EndLine = lineCount - 1
		}
		if d.StartLine > d.EndLine {
			continue
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartLine != out[j].StartLine {
			return out[i].StartLine < out[j].StartLine
		}
		return out[i].EndLine > out[j].EndLine
	})
	return out
}

// State is a step of the assigner.
type State int

const (
	StateStart State = iota
	StateAccumulate
	StateFlush
	StateSplit
	StateEnterClass
	StateLeaveClass
	StateTail
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateAccumulate:
		return "accumulate"
	case StateFlush:
		return "flush"
	case StateSplit:
		return "split"
	case StateEnterClass:
		return "enter-class"
	case StateLeaveClass:
		return "leave-class"
	case StateTail:
		return "tail"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// frame is one level of definition scanning: the whole file, or the body
// of a class being chunked by its nested definitions.
type frame struct {
	defs  []types.Definition
	next  int
	limit int // last line belonging to this level
}

func (f *frame) current() types.Definition {
	return f.defs[f.next]
}

func (f *frame) isLast() bool {
	return f.next == len(f.defs)-1
}

type machine struct {
	cfg       Config
	lineCount int
	defs      []types.Definition

	stack []*frame
	out   []types.LineRange

	// pending chunk; empty when end < start
	start, end int
	absorbed   int // definitions taken into the pending chunk
}

func (m *machine) run() {
	s := StateStart
	for s != StateDone {
		s = m.step(s)
	}
}

func (m *machine) top() *frame {
	return m.stack[len(m.stack)-1]
}

func (m *machine) size() int {
	return m.end - m.start + 1
}

func (m *machine) step(s State) State {
	switch s {
	case StateStart:
		m.stack = []*frame{{defs: m.defs, limit: m.lineCount - 1}}
		m.start = 0
		m.end = m.defs[0].StartLine - 1
		return StateAccumulate

	case StateAccumulate:
		f := m.top()
		if f.next >= len(f.defs) {
			if len(m.stack) > 1 {
				return StateLeaveClass
			}
			return StateTail
		}
		d := f.current()
		switch {
		case d.EndLine < m.start:
			// covered by an emitted chunk
			f.next++
		case d.EndLine <= m.end:
			f.next++
		case m.absorbs(f, d):
			m.end = d.EndLine
			m.absorbed++
			f.next++
		default:
			return StateFlush
		}
		return StateAccumulate

	case StateFlush:
		// Lines without a definition of their own stay pending and are
		// emitted together with the definition that follows them.
		if m.absorbed > 0 {
			m.emit(m.start, m.end)
			m.reset(m.end + 1)
			return StateAccumulate
		}
		f := m.top()
		if d := f.current(); d.IsClass && len(nested(f.defs[f.next+1:], d)) > 0 {
			return StateEnterClass
		}
		return StateSplit

	case StateSplit:
		f := m.top()
		d := f.current()
		m.emit(m.start, d.EndLine)
		m.reset(d.EndLine + 1)
		f.next++
		return StateAccumulate

	case StateEnterClass:
		f := m.top()
		class := f.current()
		inner := nested(f.defs[f.next+1:], class)
		f.next++
		m.stack = append(m.stack, &frame{defs: inner, limit: class.EndLine})
		m.end = max(m.end, inner[0].StartLine-1)
		return StateAccumulate

	case StateLeaveClass:
		m.tail(m.top().limit)
		m.stack = m.stack[:len(m.stack)-1]
		return StateAccumulate

	case StateTail:
		m.tail(m.lineCount - 1)
		return StateDone
	}
	return StateDone
}

// absorbs decides whether d joins the pending chunk.
func (m *machine) absorbs(f *frame, d types.Definition) bool {
	wouldBe := d.EndLine - m.start + 1
	if wouldBe <= m.cfg.MaxLines {
		return true
	}
	expectedMin := m.cfg.ExpectedMin()
	if float64(m.size()) < expectedMin && d.EndLine-d.StartLine+1 <= m.cfg.MaxLines {
		return true
	}
	return f.isLast() && float64(f.limit-m.end) < expectedMin
}

// tail closes a level whose definitions are consumed. Lines after the
// pending chunk up to limit join the last chunk when there are fewer than
// ExpectedMin of them, otherwise they form their own chunk.
func (m *machine) tail(limit int) {
	remaining := limit - m.end
	if remaining > 0 && float64(remaining) < m.cfg.ExpectedMin() {
		switch {
		case m.size() > 0:
			m.end = limit
			m.emit(m.start, m.end)
		case len(m.out) > 0:
			last := m.out[len(m.out)-1]
			m.out = m.out[:len(m.out)-1]
			m.emit(last.Start, limit)
		default:
			m.emit(m.start, limit)
		}
	} else {
		if m.size() > 0 {
			m.emit(m.start, m.end)
		}
		if remaining > 0 {
			m.emit(m.end+1, limit)
		}
	}
	m.reset(limit + 1)
}

// emit appends [start, end], split into near-equal pieces when it exceeds MaxLines.
func (m *machine) emit(start, end int) {
	m.out = append(m.out, simple.Split(start, end, m.cfg.MaxLines)...)
}

func (m *machine) reset(start int) {
	m.start = start
	m.end = start - 1
	m.absorbed = 0
}

// nested returns the definitions strictly inside class, excluding its header line.
func nested(defs []types.Definition, class types.Definition) []types.Definition {
	var inner []types.Definition
	for _, d := range defs {
		if d.StartLine > class.EndLine {
			break
		}
		if d.StartLine > class.StartLine && d.EndLine <= class.EndLine {
			inner = append(inner, d)
		}
	}
	return inner
}
