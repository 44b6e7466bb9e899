package tool

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeConfig decodes a tool configuration section into dst, a pointer to a
// struct with mapstructure tags. Durations accept strings such as "30s".
// A nil section leaves dst untouched.
func DecodeConfig(section map[string]any, dst any) error {
	if len(section) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(section); err != nil {
		return fmt.Errorf("decode tool config: %w", err)
	}
	return nil
}
