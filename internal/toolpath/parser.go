package toolpath

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

const mmPerInch = 25.4

// Options configures a Parser.
type Options struct {
	// Incremental starts the program in G91 mode instead of G90.
	Incremental bool
	// ArcResolution is the longest chord used when linearising arcs.
	ArcResolution float64
	// Start is the tool position before the first move.
	Start mgl64.Vec3
}

const DefaultArcResolution = 0.5

// MaxLineLength is the longest program line Parse accepts.
const MaxLineLength = 1 << 20

type motion int

const (
	motionNone motion = iota
	motionRapid
	motionLinear
	motionCW
	motionCCW
)

type word struct {
	letter byte
	value  float64
}

// Parser reads G-code style programs. A Parser is not safe for concurrent use.
type Parser struct {
	opt Options

	line     int
	pos      mgl64.Vec3
	motion   motion
	absolute bool
	scale    float64
	feed     float64

	segs []Segment
}

func NewParser(opt Options) *Parser {
	if opt.ArcResolution <= 0 {
		opt.ArcResolution = DefaultArcResolution
	}
	return &Parser{opt: opt}
}

// Parse parses a whole program. On failure it returns no segments and a
// *ParseError naming the offending line.
func Parse(r io.Reader, opt Options) ([]Segment, error) {
	return NewParser(opt).Parse(r)
}

func ParseString(text string, opt Options) ([]Segment, error) {
	return NewParser(opt).Parse(strings.NewReader(text))
}

func (p *Parser) reset() {
	p.line = 0
	p.pos = p.opt.Start
	p.motion = motionNone
	p.absolute = !p.opt.Incremental
	p.scale = 1
	p.feed = 0
	p.segs = []Segment{}
}

func (p *Parser) Parse(r io.Reader) ([]Segment, error) {
	p.reset()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), MaxLineLength)
	for sc.Scan() {
		p.line++
		if err := p.parseLine(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			p.line++
			return nil, p.errorf("line longer than %d bytes", MaxLineLength)
		}
		return nil, fmt.Errorf("read program: %w", err)
	}

	segs := p.segs
	p.segs = nil
	return segs, nil
}

func (p *Parser) errorf(format string, args ...any) error {
	return &ParseError{Line: p.line, Msg: fmt.Sprintf(format, args...)}
}

// stripComments removes "( ... )" and "; ..." comments.
func (p *Parser) stripComments(line string) (string, error) {
	var b strings.Builder
	depth := 0
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '(':
			depth++
		case c == ')':
			if depth == 0 {
				return "", p.errorf("unbalanced ')'")
			}
			depth--
		case depth > 0:
		case c == ';':
			return b.String(), nil
		default:
			b.WriteByte(c)
		}
	}
	if depth > 0 {
		return "", p.errorf("unterminated comment")
	}
	return b.String(), nil
}

func isNumberChar(c byte) bool {
	return (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '+'
}

func isLetter(c byte) bool {
	return c >= 'A' && c <= 'Z'
}

func (p *Parser) tokenize(line string) ([]word, error) {
	line = strings.ToUpper(line)
	words := []word{}

	i := 0
	for i < len(line) {
		c := line[i]
		if c == ' ' || c == '\t' || c == '\r' {
			i++
			continue
		}
		if c == '%' && len(words) == 0 && strings.TrimSpace(line[i+1:]) == "" {
			return words, nil
		}
		if !isLetter(c) {
			return nil, p.errorf("unexpected character %q", c)
		}
		i++
		for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
			i++
		}
		start := i
		for i < len(line) && isNumberChar(line[i]) {
			i++
		}
		if start == i {
			if i < len(line) {
				return nil, p.errorf("non-numeric value for %c", c)
			}
			return nil, p.errorf("missing value for %c", c)
		}
		v, err := strconv.ParseFloat(line[start:i], 64)
		if err != nil {
			return nil, p.errorf("non-numeric value for %c: %q", c, line[start:i])
		}
		words = append(words, word{letter: c, value: v})
	}

	return words, nil
}

// code turns G54.1 into 541 and G1 into 10 so that codes compare exactly.
func code(v float64) int {
	return int(math.Round(v * 10))
}

func (p *Parser) parseLine(raw string) error {
	line, err := p.stripComments(raw)
	if err != nil {
		return err
	}
	words, err := p.tokenize(line)
	if err != nil {
		return err
	}
	if len(words) == 0 {
		return nil
	}

	var (
		axes      [3]float64
		hasAxis   [3]bool
		i, j, r   float64
		hasIJ     bool
		hasR      bool
		explicit  = motionNone
		dwell     bool
		hasMotion bool
		feed      float64
		hasFeed   bool
	)

	for _, w := range words {
		switch w.letter {
		case 'G':
			switch code(w.value) {
			case 0:
				explicit, hasMotion = motionRapid, true
			case 10:
				explicit, hasMotion = motionLinear, true
			case 20:
				explicit, hasMotion = motionCW, true
			case 30:
				explicit, hasMotion = motionCCW, true
			case 40:
				dwell = true
			case 170:
			case 180, 190:
				return p.errorf("unsupported arc plane G%g", w.value)
			case 200:
				p.scale = mmPerInch
			case 210:
				p.scale = 1
			case 540, 550, 560, 570, 580, 590, 940:
			case 900:
				p.absolute = true
			case 910:
				p.absolute = false
			default:
				return p.errorf("unknown command G%g", w.value)
			}
		case 'M':
			switch code(w.value) {
			case 0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 300:
			default:
				return p.errorf("unknown command M%g", w.value)
			}
		case 'X', 'Y', 'Z':
			a := int(w.letter - 'X')
			axes[a] = w.value
			hasAxis[a] = true
		case 'I':
			i, hasIJ = w.value, true
		case 'J':
			j, hasIJ = w.value, true
		case 'R':
			r, hasR = w.value, true
		case 'F':
			// zero and negative feeds make moves instantaneous
			feed, hasFeed = math.Max(w.value, 0), true
		case 'P':
			if !dwell {
				return p.errorf("P word without G4")
			}
		case 'S', 'T', 'N', 'O':
		default:
			return p.errorf("unsupported word %c", w.letter)
		}
	}

	if hasFeed {
		p.feed = feed * p.scale
	}

	anyAxis := hasAxis[0] || hasAxis[1] || hasAxis[2]

	if hasMotion {
		p.motion = explicit
		if !anyAxis {
			return p.errorf("missing coordinate for motion command")
		}
	}
	if !anyAxis {
		if hasIJ || hasR {
			return p.errorf("arc parameters without coordinates")
		}
		return nil
	}
	if p.motion == motionNone {
		return p.errorf("coordinates without motion command")
	}

	target := p.pos
	for a := 0; a < 3; a++ {
		if !hasAxis[a] {
			continue
		}
		v := axes[a] * p.scale
		if p.absolute {
			target[a] = v
		} else {
			target[a] = p.pos[a] + v
		}
	}

	switch p.motion {
	case motionRapid:
		p.emit(Segment{Start: p.pos, End: target, Kind: Rapid})
	case motionLinear:
		p.emit(Segment{Start: p.pos, End: target, Kind: Feed, Feed: p.feed})
	case motionCW, motionCCW:
		if hasR == hasIJ {
			return p.errorf("arc needs either I/J or R")
		}
		var center mgl64.Vec2
		if hasIJ {
			center = mgl64.Vec2{p.pos.X() + i*p.scale, p.pos.Y() + j*p.scale}
		} else {
			var ok bool
			center, ok = arcCenterFromRadius(p.pos, target, r*p.scale, p.motion == motionCW)
			if !ok {
				return p.errorf("arc radius R%g cannot reach end point", r)
			}
		}
		if err := p.arc(target, center, p.motion == motionCW); err != nil {
			return err
		}
	}

	p.pos = target
	return nil
}

func (p *Parser) emit(seg Segment) {
	seg.Line = p.line
	p.segs = append(p.segs, seg)
}
