package dataset

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParseOptions controls how raw string cells are typed.
type ParseOptions struct {
	// Numeric parsing locale. If DecimalSeparator is 0, auto-detect per value.
	DecimalSeparator   rune
	ThousandsSeparator rune
	// MaxCategories is the distinct-value ceiling for categorical text. Above it a column is free text.
	MaxCategories int
	// Kinds forces the kind of named columns, skipping inference.
	Kinds map[string]Kind
}

// DefaultParseOptions returns the defaults used by the CLI loaders.
func DefaultParseOptions() ParseOptions {
	return ParseOptions{MaxCategories: 30}
}

var identifierName = regexp.MustCompile(`(?i)^(id|.*_id|uuid|nome|name|.*_name|telefone|phone|celular|email|e-mail|cpf)$`)

var missingTokens = map[string]struct{}{
	"": {}, "na": {}, "n/a": {}, "nan": {}, "null": {}, "none": {}, "-": {},
}

// IsMissing reports whether a raw cell denotes a missing value.
func IsMissing(s string) bool {
	_, ok := missingTokens[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// Infer types every column of a raw table by its predominant parsed type and
// returns the typed collection. Kinds are decided once per column.
func Infer(header []string, rows [][]string, opt ParseOptions) (*Collection, error) {
	if opt.MaxCategories <= 0 {
		opt.MaxCategories = 30
	}
	ncol := len(header)
	attrs := make([]Attribute, ncol)
	for j := range header {
		name := strings.TrimSpace(header[j])
		if name == "" {
			name = fmt.Sprintf("column_%d", j+1)
		}
		attrs[j] = Attribute{Name: name}
		if k, ok := lookupKind(opt.Kinds, name); ok {
			attrs[j].Kind = k
		} else {
			attrs[j].Kind = inferKind(rows, j, opt)
		}
		attrs[j].Identifier = identifierName.MatchString(name) || looksUnique(rows, j, attrs[j].Kind)
	}
	schema, err := NewSchema(attrs...)
	if err != nil {
		return nil, err
	}
	records := make([]Record, len(rows))
	for i, raw := range rows {
		rec := make(Record, ncol)
		for j := 0; j < ncol; j++ {
			cell := ""
			if j < len(raw) {
				cell = raw[j]
			}
			rec[j] = parseCell(cell, attrs[j].Kind, opt)
		}
		records[i] = rec
	}
	return New(schema, records)
}

func lookupKind(m map[string]Kind, name string) (Kind, bool) {
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return 0, false
}

func inferKind(rows [][]string, j int, opt ParseOptions) Kind {
	var numCnt, boolCnt, dtCnt, txtCnt int
	distinct := map[string]struct{}{}
	for _, r := range rows {
		if j >= len(r) || IsMissing(r[j]) {
			continue
		}
		v := strings.TrimSpace(r[j])
		switch {
		case isBoolWord(v):
			boolCnt++
		case parseNumberOK(v, opt):
			numCnt++
		default:
			if _, ok := ParseTime(v); ok {
				dtCnt++
			} else {
				txtCnt++
				if len(distinct) <= opt.MaxCategories {
					distinct[v] = struct{}{}
				}
			}
		}
	}
	switch {
	case boolCnt > 0 && numCnt == 0 && dtCnt == 0 && txtCnt == 0:
		return Boolean
	case numCnt > 0 && numCnt >= dtCnt && numCnt >= txtCnt+boolCnt:
		return Numeric
	case dtCnt > 0 && dtCnt >= txtCnt:
		return Timestamp
	case len(distinct) <= opt.MaxCategories:
		return Categorical
	default:
		return Text
	}
}

// looksUnique flags text columns whose every non-missing value is distinct.
func looksUnique(rows [][]string, j int, k Kind) bool {
	if k != Text && k != Categorical {
		return false
	}
	seen := map[string]struct{}{}
	n := 0
	for _, r := range rows {
		if j >= len(r) || IsMissing(r[j]) {
			continue
		}
		n++
		seen[strings.TrimSpace(r[j])] = struct{}{}
	}
	return n > 5 && len(seen) == n
}

func parseCell(s string, k Kind, opt ParseOptions) Value {
	if IsMissing(s) {
		return Null
	}
	v := strings.TrimSpace(s)
	switch k {
	case Numeric:
		if f, ok := ParseNumber(v, opt); ok {
			return Num(f)
		}
		return Null
	case Boolean:
		if b, ok := ParseBool(v); ok {
			return Bool(b)
		}
		return Null
	case Timestamp:
		if t, ok := ParseTime(v); ok {
			return Time(t)
		}
		return Null
	default:
		return Str(v)
	}
}

func isBoolWord(s string) bool {
	_, ok := ParseBool(s)
	return ok
}

// ParseBool reads the yes/no words accepted in boolean columns.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "sim", "s", "verdadeiro":
		return true, true
	case "false", "no", "n", "não", "nao", "falso":
		return false, true
	}
	return false, false
}

// ParseTime tries the common layouts seen in shelter exports.
func ParseTime(s string) (time.Time, bool) {
	layouts := []string{
		time.RFC3339, "2006-01-02", "2006/01/02", "02/01/2006", "01/02/2006",
		"2006-01-02 15:04", "2006-01-02 15:04:05", "1/2/2006 15:04", "1/2/2006 15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseNumberOK(s string, opt ParseOptions) bool {
	_, ok := ParseNumber(s, opt)
	return ok
}

// ParseNumber parses locale-formatted numbers ("1.000,5", "1,000.5", "12%").
func ParseNumber(s string, opt ParseOptions) (float64, bool) {
	raw := strings.TrimSpace(s)
	raw = strings.ReplaceAll(raw, "%", "")
	raw = strings.ReplaceAll(raw, "\u00A0", " ")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	dec := opt.DecimalSeparator
	thou := opt.ThousandsSeparator
	if dec == 0 {
		cpos := strings.LastIndex(raw, ",")
		dpos := strings.LastIndex(raw, ".")
		if cpos >= 0 && dpos >= 0 {
			if cpos > dpos {
				dec = ','
				thou = '.'
			} else {
				dec = '.'
				thou = ','
			}
		} else if cpos >= 0 {
			dec = ','
		} else {
			dec = '.'
		}
	}
	if thou == 0 {
		for _, sep := range []rune{',', '.', ' '} {
			if sep != dec {
				raw = strings.ReplaceAll(raw, string(sep), "")
			}
		}
	} else if thou != dec {
		raw = strings.ReplaceAll(raw, string(thou), "")
	}
	if dec != '.' {
		raw = strings.ReplaceAll(raw, string(dec), ".")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
