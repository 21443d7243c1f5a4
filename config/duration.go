package config

import (
	"time"

	"github.com/jessevdk/go-flags"
)

// Duration is a time.Duration that reads and writes itself as a string such
// as "1s" or "500ms", in every config format.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

var _ flags.Unmarshaler = (*Duration)(nil)

func (d *Duration) UnmarshalFlag(value string) error {
	return d.UnmarshalText([]byte(value))
}
