package orm

import "strings"

// SQLFunction identifies a database function that may appear as a column
// default. Dialects render each one in their own spelling.
type SQLFunction int

const (
	FuncCurrentDate SQLFunction = iota + 1
	FuncCurrentDateTime
	FuncCurrentUTCDateTime
	FuncCurrentTime
	FuncNewGuid
	FuncHostName
	FuncAppName
)

// functionSpellings maps every known spelling, normalized, to its function
var functionSpellings = map[string]SQLFunction{
	"current_date":            FuncCurrentDate,
	"curdate":                 FuncCurrentDate,
	"date('now')":             FuncCurrentDate,
	"cast(getdate()asdate)":   FuncCurrentDate,
	"convert(date,getdate())": FuncCurrentDate,

	"current_timestamp":           FuncCurrentDateTime,
	"getdate":                     FuncCurrentDateTime,
	"now":                         FuncCurrentDateTime,
	"localtimestamp":              FuncCurrentDateTime,
	"sysdatetime":                 FuncCurrentDateTime,
	"datetime('now','localtime')": FuncCurrentDateTime,

	"getutcdate":            FuncCurrentUTCDateTime,
	"sysutcdatetime":        FuncCurrentUTCDateTime,
	"utc_timestamp":         FuncCurrentUTCDateTime,
	"datetime('now')":       FuncCurrentUTCDateTime,
	"timezone('utc',now())": FuncCurrentUTCDateTime,
	"now()attimezone'utc'":  FuncCurrentUTCDateTime,

	"current_time":          FuncCurrentTime,
	"curtime":               FuncCurrentTime,
	"time('now')":           FuncCurrentTime,
	"localtime":             FuncCurrentTime,
	"cast(getdate()astime)": FuncCurrentTime,

	"newid":                      FuncNewGuid,
	"newsequentialid":            FuncNewGuid,
	"gen_random_uuid":            FuncNewGuid,
	"uuid_generate_v4":           FuncNewGuid,
	"uuid":                       FuncNewGuid,
	"lower(hex(randomblob(16)))": FuncNewGuid,

	"host_name":                           FuncHostName,
	"@@hostname":                          FuncHostName,
	"inet_server_addr":                    FuncHostName,
	"app_name":                            FuncAppName,
	"current_setting('application_name')": FuncAppName,
}

// normalizeFunction lower-cases the expression, drops whitespace, strips
// enclosing parentheses and a trailing empty argument list.
func normalizeFunction(value string) string {
	s := strings.ToLower(strings.Join(strings.Fields(value), ""))
	for len(s) > 2 && s[0] == '(' && s[len(s)-1] == ')' && balanced(s[1:len(s)-1]) {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSuffix(s, "()")
}

func balanced(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// ParseFunction recognizes a registered SQL function in any dialect's spelling
func ParseFunction(value string) (SQLFunction, bool) {
	f, ok := functionSpellings[normalizeFunction(value)]
	return f, ok
}
