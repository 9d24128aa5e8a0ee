package genx

import (
	"encoding/json"
	"errors"

	"github.com/kaptinlin/jsonrepair"
)

// unmarshalJSON decodes data into v and retries once through jsonrepair
// on a syntax error.
func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	var syn *json.SyntaxError
	if err == nil || !errors.As(err, &syn) {
		return err
	}
	fixed, rerr := jsonrepair.JSONRepair(string(data))
	if rerr != nil {
		return err
	}
	return json.Unmarshal([]byte(fixed), v)
}
