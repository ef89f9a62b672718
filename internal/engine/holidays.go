package engine

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"
)

type holidayFile struct {
	Holidays map[string]string `yaml:"holidays"`
}

// ImportHolidays loads a YAML holiday table of date: name entries into
// the calendar, upserting each row. Returns the number imported.
//
//	holidays:
//	  2025-01-01: "New Year's Day"
//	  2025-12-25: "Christmas Day"
func (e Engine) ImportHolidays(ctx context.Context, data []byte) (int, error) {
	var file holidayFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("invalid holiday yaml: %w", err)
	}
	if len(file.Holidays) == 0 {
		return 0, fmt.Errorf("holiday file has no holidays entries")
	}
	n := 0
	for day, name := range file.Holidays {
		if err := e.Holidays.Upsert(ctx, day, name); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
