package staging

import "strings"

// RawPath builds a SQLite JSON path into the raw column blob for a source
// column name. Quotes and backslashes are escaped so arbitrary header labels
// cannot break out of the path literal.
func RawPath(column string) string {
	return jsonPath(column)
}

// FieldPath builds a SQLite JSON path into the corrections or validation blob
// for a target field key.
func FieldPath(field string) string {
	return jsonPath(field)
}

// EscapePath makes a header label or field key safe as a gjson/sjson path
// segment into the same blobs.
func EscapePath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '\\', '|', '#', '@':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func jsonPath(key string) string {
	var b strings.Builder
	b.WriteString(`$."`)
	for _, r := range key {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteString(`"`)
	return b.String()
}
