package config

import (
	"bytes"
	"encoding/json"
)

// syntaxErrorPosition re-parses data with the standard library's
// encoding/json, which is the only decoder in this dependency stack that
// exposes a byte offset on malformed input, and converts that offset into a
// 1-indexed line/column for ParseError. Returns ok=false if the standard
// library doesn't consider it a SyntaxError either (e.g. a type mismatch
// goccy reports differently).
func syntaxErrorPosition(data []byte, cause error) (line, col int, ok bool) {
	var probe any
	err := json.Unmarshal(data, &probe)
	se, isSyntax := err.(*json.SyntaxError)
	if !isSyntax {
		return 0, 0, false
	}

	offset := se.Offset
	line = 1 + bytes.Count(data[:offset], []byte("\n"))
	lastNL := bytes.LastIndexByte(data[:offset], '\n')
	col = int(offset) - lastNL
	return line, col, true
}
