package logx

import (
	"time"

	"github.com/rs/zerolog"
)

type fieldKind uint8

const (
	kindString fieldKind = iota
	kindInt
	kindBool
	kindDuration
	kindTime
	kindAny
	kindErr
)

// Field is one key/value pair attached to a log line. Fields are written in
// order, so when a key repeats the later value is the one JSON readers keep.
type Field struct {
	key  string
	kind fieldKind
	str  string
	num  int64
	val  any
}

func String(k, v string) Field  { return Field{key: k, kind: kindString, str: v} }
func Int(k string, v int) Field { return Field{key: k, kind: kindInt, num: int64(v)} }
func Bool(k string, v bool) Field {
	f := Field{key: k, kind: kindBool}
	if v {
		f.num = 1
	}
	return f
}
func Duration(k string, v time.Duration) Field {
	return Field{key: k, kind: kindDuration, num: int64(v)}
}
func Time(k string, v time.Time) Field { return Field{key: k, kind: kindTime, val: v} }
func Any(k string, v any) Field        { return Field{key: k, kind: kindAny, val: v} }

// Err attaches err under "err". A nil error adds nothing.
func Err(err error) Field {
	if err == nil {
		return Field{}
	}
	return Field{key: "err", kind: kindErr, val: err}
}

func (f Field) write(e *zerolog.Event) {
	if f.key == "" {
		return
	}
	switch f.kind {
	case kindString:
		e.Str(f.key, f.str)
	case kindInt:
		e.Int64(f.key, f.num)
	case kindBool:
		e.Bool(f.key, f.num == 1)
	case kindDuration:
		e.Dur(f.key, time.Duration(f.num))
	case kindTime:
		e.Time(f.key, f.val.(time.Time))
	case kindErr:
		e.AnErr(f.key, f.val.(error))
	default:
		e.Interface(f.key, f.val)
	}
}
