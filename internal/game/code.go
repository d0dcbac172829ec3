package game

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	// CodeLength is the number of positions in every secret and guess.
	CodeLength = 4
	// MaxAttempts caps each player's guess row.
	MaxAttempts = 10
)

var (
	ErrLengthMismatch = errors.New("LENGTH_MISMATCH: Secret and guess differ in length")
	ErrBadLength      = fmt.Errorf("BAD_LENGTH: Code must have exactly %d positions", CodeLength)
	ErrEmptyValue     = errors.New("EMPTY_VALUE: Code positions cannot be empty")
)

// Code is an ordered sequence of opaque values. Only equality between
// positions matters.
type Code []string

// UnmarshalJSON accepts both strings and numbers, so [1,2,3,4] and
// ["1","2","3","4"] decode to the same code.
func (c *Code) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*c = nil
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(Code, len(raw))
	for i, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out[i] = s
			continue
		}
		var n json.Number
		if err := json.Unmarshal(r, &n); err != nil {
			return fmt.Errorf("code position %d: must be a string or number", i)
		}
		out[i] = n.String()
	}
	*c = out
	return nil
}

// Equal reports element-wise equality.
func (c Code) Equal(other Code) bool {
	return slices.Equal(c, other)
}

func (c Code) Clone() Code {
	return slices.Clone(c)
}

func (c Code) String() string {
	return "[" + strings.Join(c, " ") + "]"
}

// NormalizeCode trims surrounding whitespace from every position.
func NormalizeCode(raw []string) Code {
	code := make(Code, len(raw))
	for i, v := range raw {
		code[i] = strings.TrimSpace(v)
	}
	return code
}

// ValidateCode checks the length and that no position is empty.
func ValidateCode(code Code) error {
	if len(code) != CodeLength {
		return ErrBadLength
	}
	for i, v := range code {
		if v == "" {
			return fmt.Errorf("%w: position %d", ErrEmptyValue, i)
		}
	}
	return nil
}
