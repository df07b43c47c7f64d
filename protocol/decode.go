package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/petal-labs/storyline/model"
)

// ErrBadPayload is returned when a payload cannot be read as the expected type.
var ErrBadPayload = errors.New("protocol: bad payload")

// Decode reads payload as a T. In-process publishers send T or *T directly;
// payloads replayed from a journal arrive as JSON or as generic maps.
func Decode[T any](payload any) (T, error) {
	var out T
	switch v := payload.(type) {
	case T:
		return v, nil
	case *T:
		if v == nil {
			return out, fmt.Errorf("%w: nil %T", ErrBadPayload, payload)
		}
		return *v, nil
	case json.RawMessage:
		return decodeJSON[T](v)
	case []byte:
		return decodeJSON[T](v)
	case string:
		return decodeJSON[T]([]byte(v))
	case map[string]any:
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName:          "json",
			WeaklyTypedInput: true,
			Result:           &out,
			DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		})
		if err != nil {
			return out, err
		}
		if err := dec.Decode(v); err != nil {
			return out, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		return out, nil
	default:
		return out, fmt.Errorf("%w: got %T, want %v", ErrBadPayload, payload, reflect.TypeOf(out))
	}
}

func decodeJSON[T any](data []byte) (T, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return out, nil
}

// Unaddress splits an Addressed payload, in any of the forms Decode
// accepts, into the target specification id and the inner payload. Other
// payloads come back unchanged with an empty id.
func Unaddress(payload any) (string, any) {
	switch v := payload.(type) {
	case Addressed:
		return v.Spec, v.Payload
	case *Addressed:
		if v != nil {
			return v.Spec, v.Payload
		}
	case map[string]any:
		spec, ok := v["spec"].(string)
		inner, has := v["payload"]
		if ok && has {
			return spec, inner
		}
	case json.RawMessage:
		var a struct {
			Spec    string          `json:"spec"`
			Payload json.RawMessage `json:"payload"`
		}
		if json.Unmarshal(v, &a) == nil && a.Spec != "" && len(a.Payload) > 0 {
			return a.Spec, a.Payload
		}
	}
	return "", payload
}

// DecodeChange reads the payload of a changes message. Any model.Change is
// accepted as is; serialized payloads are read as cell value changes.
func DecodeChange(payload any) (model.Change, error) {
	switch v := payload.(type) {
	case *model.CellValueChange:
		// Apply records the prior value on the change, so every receiver
		// needs its own copy.
		if v == nil {
			return nil, fmt.Errorf("%w: nil change", ErrBadPayload)
		}
		return model.NewCellValueChange(v.Step, v.Cell, v.Value), nil
	case model.Change:
		return v, nil
	case model.CellValueChange:
		return model.NewCellValueChange(v.Step, v.Cell, v.Value), nil
	}
	c, err := Decode[model.CellValueChange](payload)
	if err != nil {
		return nil, err
	}
	if c.Step == "" || c.Cell == "" {
		return nil, fmt.Errorf("%w: change needs step and cell", ErrBadPayload)
	}
	return model.NewCellValueChange(c.Step, c.Cell, c.Value), nil
}
