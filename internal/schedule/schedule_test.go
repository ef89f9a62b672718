package schedule

import (
	"testing"
	"time"
)

func at(value string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", value)
	if err != nil {
		panic(err)
	}
	return t
}

func TestMatchesDaily(t *testing.T) {
	specs := []Spec{{Type: TypeDaily, Time: "07:00"}}
	if !Matches(specs, at("2025-06-02 07:00")) {
		t.Fatal("daily spec should match its minute on any day")
	}
	if Matches(specs, at("2025-06-02 07:01")) {
		t.Fatal("one minute off must not match")
	}
	if Matches(specs, at("2025-06-02 19:00")) {
		t.Fatal("different hour must not match")
	}
}

func TestMatchesWeekly(t *testing.T) {
	// 2025-06-02 is a Monday (weekday 1).
	specs := []Spec{{Type: TypeWeekly, Time: "09:00", Days: []int{1, 3, 5}}}
	if !Matches(specs, at("2025-06-02 09:00")) {
		t.Fatal("monday at 09:00 should match")
	}
	if Matches(specs, at("2025-06-03 09:00")) {
		t.Fatal("tuesday is not in the day set")
	}
	if Matches(specs, at("2025-06-02 09:30")) {
		t.Fatal("right day, wrong minute")
	}
}

func TestMatchesMonthly(t *testing.T) {
	specs := []Spec{{Type: TypeMonthly, Time: "18:00", Dates: []int{1, 15}}}
	if !Matches(specs, at("2025-06-15 18:00")) {
		t.Fatal("the 15th at 18:00 should match")
	}
	if Matches(specs, at("2025-06-14 18:00")) {
		t.Fatal("the 14th is not in the date set")
	}
}

func TestMatchesFirstOfSeveralSpecsWins(t *testing.T) {
	specs := []Spec{
		{Type: TypeWeekly, Time: "09:00", Days: []int{6}},
		{Type: TypeDaily, Time: "07:00"},
	}
	if !Matches(specs, at("2025-06-02 07:00")) {
		t.Fatal("second spec should fire even when the first does not")
	}
}

func TestMatchesTimeDisqualifiesBeforeType(t *testing.T) {
	// A weekly spec on the right day but wrong time must not fall
	// through to match some other way.
	specs := []Spec{{Type: TypeWeekly, Time: "09:00", Days: []int{1}}}
	if Matches(specs, at("2025-06-02 10:00")) {
		t.Fatal("matching day with wrong time must not fire")
	}
}

func TestMatchesEmpty(t *testing.T) {
	if Matches(nil, at("2025-06-02 07:00")) {
		t.Fatal("no specs, no match")
	}
}

func TestDueDate(t *testing.T) {
	fired := at("2025-06-02 07:00")

	if got := DueDate(0, 0, fired); got != nil {
		t.Fatalf("zero offsets should mean no deadline, got %v", got)
	}

	got := DueDate(2, 3, fired)
	if got == nil {
		t.Fatal("want a due date")
	}
	want := at("2025-06-04 10:00")
	if !got.Equal(want) {
		t.Fatalf("due date = %v, want %v", got, want)
	}

	// Hours only.
	got = DueDate(0, 5, fired)
	if want := at("2025-06-02 12:00"); !got.Equal(want) {
		t.Fatalf("due date = %v, want %v", got, want)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		specs []Spec
		ok    bool
	}{
		{"empty list", nil, false},
		{"daily", []Spec{{Type: TypeDaily, Time: "07:00"}}, true},
		{"bad time", []Spec{{Type: TypeDaily, Time: "7am"}}, false},
		{"weekly", []Spec{{Type: TypeWeekly, Time: "09:00", Days: []int{0, 6}}}, true},
		{"weekly no days", []Spec{{Type: TypeWeekly, Time: "09:00"}}, false},
		{"weekly day out of range", []Spec{{Type: TypeWeekly, Time: "09:00", Days: []int{7}}}, false},
		{"monthly", []Spec{{Type: TypeMonthly, Time: "18:00", Dates: []int{31}}}, true},
		{"monthly no dates", []Spec{{Type: TypeMonthly, Time: "18:00"}}, false},
		{"monthly date out of range", []Spec{{Type: TypeMonthly, Time: "18:00", Dates: []int{0}}}, false},
		{"unknown type", []Spec{{Type: "yearly", Time: "18:00"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.specs)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("want an error")
			}
		})
	}
}

func TestValidateDueOffsets(t *testing.T) {
	if err := ValidateDueOffsets(0, 0); err != nil {
		t.Fatalf("zero offsets are valid: %v", err)
	}
	if err := ValidateDueOffsets(-1, 0); err == nil {
		t.Fatal("negative days must be rejected")
	}
	if err := ValidateDueOffsets(0, -1); err == nil {
		t.Fatal("negative hours must be rejected")
	}
}
