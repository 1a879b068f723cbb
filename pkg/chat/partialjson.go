package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var errUnparseablePartial = errors.New("partial json could not be completed")

// ParsePartialJSON parses a possibly truncated JSON document. Complete
// documents are decoded as is; anything else is repaired first, which closes
// open strings, arrays and objects and drops trailing commas.
func ParsePartialJSON(s string) (any, error) {
	var v any
	if strings.TrimSpace(s) == "" {
		return nil, errUnparseablePartial
	}
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v, nil
	}

	repaired, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUnparseablePartial, err)
	}
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", errUnparseablePartial, err)
	}
	return v, nil
}
