package results

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRollJobRollNo(t *testing.T) {
	t.Parallel()

	job := RollJob{Roll: 1042, Semester: "3", InstituteCode: "0101CS21"}
	require.Equal(t, "0101CS211042", job.RollNo())
}

func TestRangeRequestValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		req     RangeRequest
		wantErr bool
	}{
		{"single roll", RangeRequest{RollStart: 5, RollEnd: 5, Semester: "1", InstituteCode: "0101"}, false},
		{"range", RangeRequest{RollStart: 101, RollEnd: 107, Semester: "1", InstituteCode: "0101"}, false},
		{"reversed", RangeRequest{RollStart: 10, RollEnd: 9, Semester: "1", InstituteCode: "0101"}, true},
		{"negative", RangeRequest{RollStart: -1, RollEnd: 9, Semester: "1", InstituteCode: "0101"}, true},
		{"missing semester", RangeRequest{RollStart: 1, RollEnd: 9, Semester: " ", InstituteCode: "0101"}, true},
		{"missing institute", RangeRequest{RollStart: 1, RollEnd: 9, Semester: "1"}, true},
		{"widest allowed", RangeRequest{RollStart: 1, RollEnd: DefaultMaxRangeSize, Semester: "1", InstituteCode: "0101"}, false},
		{"wider than default", RangeRequest{RollStart: 0, RollEnd: DefaultMaxRangeSize, Semester: "1", InstituteCode: "0101"}, true},
		{"full int span", RangeRequest{RollStart: 0, RollEnd: math.MaxInt, Semester: "1", InstituteCode: "0101"}, true},
		{"ends at max int", RangeRequest{RollStart: math.MaxInt - 1, RollEnd: math.MaxInt, Semester: "1", InstituteCode: "0101"}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.req.Validate()
			if tc.wantErr {
				require.Error(t, err)
				require.True(t, errors.Is(err, ErrInvalidRange))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRangeRequestValidateLimit(t *testing.T) {
	t.Parallel()

	req := RangeRequest{RollStart: 10, RollEnd: 19, Semester: "1", InstituteCode: "0101"}
	require.NoError(t, req.ValidateLimit(10))

	err := req.ValidateLimit(9)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidRange)
	require.Contains(t, err.Error(), "more than 9 rolls")

	// Non-positive limits fall back to the default.
	require.NoError(t, req.ValidateLimit(0))
	wide := RangeRequest{RollStart: 0, RollEnd: math.MaxInt, Semester: "1", InstituteCode: "0101"}
	require.ErrorIs(t, wide.ValidateLimit(-1), ErrInvalidRange)
	require.ErrorIs(t, wide.ValidateLimit(math.MaxInt), ErrInvalidRange)
}

func TestRangeRequestSizeDoesNotOverflow(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, RangeRequest{RollStart: 0, RollEnd: math.MaxInt}.Size())
	require.Equal(t, math.MaxInt, RangeRequest{RollStart: 1, RollEnd: math.MaxInt}.Size())
	require.Equal(t, 2, RangeRequest{RollStart: math.MaxInt - 1, RollEnd: math.MaxInt}.Size())
	require.Equal(t, 0, RangeRequest{RollStart: 5, RollEnd: 4}.Size())
}

func TestRangeRequestJob(t *testing.T) {
	t.Parallel()

	req := RangeRequest{RollStart: 1, RollEnd: 3, Semester: "4", InstituteCode: "0827"}
	require.Equal(t, 3, req.Size())
	require.Equal(t, RollJob{Roll: 2, Semester: "4", InstituteCode: "0827"}, req.Job(2))
}

func TestStateForOutcome(t *testing.T) {
	t.Parallel()

	require.Equal(t, JobSucceeded, StateFor(Succeeded(ResultRecord{Name: "A"})))
	require.Equal(t, JobSkippedNotFound, StateFor(NotFound()))
	require.Equal(t, JobFailed, StateFor(Failed("boom")))
	require.True(t, JobSucceeded.Terminal())
	require.True(t, JobSkippedNotFound.Terminal())
	require.False(t, JobAttempting.Terminal())
	require.False(t, JobPending.Terminal())
}

func TestResultRecordGrade(t *testing.T) {
	t.Parallel()

	rec := ResultRecord{Grades: []SubjectGrade{{Code: "BT101", Grade: "A"}, {Code: "BT102", Grade: "B+"}}}
	grade, ok := rec.Grade("BT102")
	require.True(t, ok)
	require.Equal(t, "B+", grade)
	_, ok = rec.Grade("BT999")
	require.False(t, ok)
}
