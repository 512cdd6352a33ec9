package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const emiratesCard = `UNITED ARAB EMIRATES
FEDERAL AUTHORITY FOR IDENTITY
ID Number: 784-1990-1234567-1
Name: Mohammed Al~~ N N Rashid
Date of Birth: 15/06/1990
Nationality: United Arab Emirates
Sex: M
Expiry Date: 01/01/2030`

func TestExtractEmiratesCard(t *testing.T) {
	rec := Extract(emiratesCard)

	assert.Equal(t, "784-1990-1234567-1", rec.IDNumber)
	assert.Equal(t, FormatEmirates, rec.IDFormat)
	assert.Equal(t, "Mohammed Al N N Rashid", rec.Name)
	assert.Equal(t, "15/06/1990", rec.DateOfBirth)
	assert.Equal(t, "United Arab Emirates", rec.Nationality)
	assert.Equal(t, "M", rec.Gender)
	assert.True(t, rec.Terminal())
	assert.Empty(t, rec.Missing())
	assert.Equal(t, emiratesCard, rec.RawText)
}

func TestExtractFields(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		check func(t *testing.T, r Record)
	}{
		{
			name: "emirates id anywhere in text",
			text: "xx784-2001-7654321-9yy",
			check: func(t *testing.T, r Record) {
				assert.Equal(t, "784-2001-7654321-9", r.IDNumber)
			},
		},
		{
			name: "emirates id preferred over grouped number",
			text: "1234 5678 9012\n784-1990-1234567-1",
			check: func(t *testing.T, r Record) {
				assert.Equal(t, "784-1990-1234567-1", r.IDNumber)
				assert.Equal(t, FormatEmirates, r.IDFormat)
			},
		},
		{
			name: "grouped twelve digits",
			text: "Card 1234 5678 9012 issued",
			check: func(t *testing.T, r Record) {
				assert.Equal(t, "1234 5678 9012", r.IDNumber)
				assert.Equal(t, FormatGrouped, r.IDFormat)
			},
		},
		{
			name: "contiguous twelve digits",
			text: "123456789012",
			check: func(t *testing.T, r Record) {
				assert.Equal(t, "123456789012", r.IDNumber)
			},
		},
		{
			name: "thirteen digits are not an id",
			text: "1234567890123",
			check: func(t *testing.T, r Record) {
				assert.Empty(t, r.IDNumber)
				assert.Equal(t, FormatNone, r.IDFormat)
			},
		},
		{
			name: "invalid calendar values are rejected",
			text: "32/13/1990 and 00/01/2000",
			check: func(t *testing.T, r Record) {
				assert.Empty(t, r.DateOfBirth)
			},
		},
		{
			name: "century outside range",
			text: "01/01/1890",
			check: func(t *testing.T, r Record) {
				assert.Empty(t, r.DateOfBirth)
			},
		},
		{
			name: "iso date",
			text: "DOB 1985-03-09",
			check: func(t *testing.T, r Record) {
				assert.Equal(t, "1985-03-09", r.DateOfBirth)
			},
		},
		{
			name: "dashed day first date",
			text: "born 09-03-1985",
			check: func(t *testing.T, r Record) {
				assert.Equal(t, "09-03-1985", r.DateOfBirth)
			},
		},
		{
			name: "labeled birth date beats earlier dates",
			text: "Issue: 01/02/2020\nDate of Birth: 03/04/1975",
			check: func(t *testing.T, r Record) {
				assert.Equal(t, "03/04/1975", r.DateOfBirth)
			},
		},
		{
			name: "first unlabeled date wins",
			text: "01/02/2020 03/04/1975",
			check: func(t *testing.T, r Record) {
				assert.Equal(t, "01/02/2020", r.DateOfBirth)
			},
		},
		{
			name: "female beats male",
			text: "Male or Female: female",
			check: func(t *testing.T, r Record) {
				assert.Equal(t, "FEMALE", r.Gender)
			},
		},
		{
			name: "male word",
			text: "Sex: male",
			check: func(t *testing.T, r Record) {
				assert.Equal(t, "MALE", r.Gender)
			},
		},
		{
			name: "labeled single letter",
			text: "Gender: F",
			check: func(t *testing.T, r Record) {
				assert.Equal(t, "F", r.Gender)
			},
		},
		{
			name: "lowercase labeled letter",
			text: "sex: f",
			check: func(t *testing.T, r Record) {
				assert.Equal(t, "F", r.Gender)
			},
		},
		{
			name: "standalone token",
			text: "ABC M 123",
			check: func(t *testing.T, r Record) {
				assert.Equal(t, "M", r.Gender)
			},
		},
		{
			name: "letter inside a word is not a gender",
			text: "MOHAMMED FARID",
			check: func(t *testing.T, r Record) {
				assert.Empty(t, r.Gender)
			},
		},
		{
			name: "name cleaned of symbols and accents",
			text: "Name:  José  O'Brien-Smith 3rd\nNext line",
			check: func(t *testing.T, r Record) {
				assert.Equal(t, "Jose O Brien Smith rd", r.Name)
			},
		},
		{
			name: "name on the following line",
			text: "Name:\nJANE DOE",
			check: func(t *testing.T, r Record) {
				assert.Equal(t, "JANE DOE", r.Name)
			},
		},
		{
			name: "surname label is not a name label",
			text: "Surname: Doe",
			check: func(t *testing.T, r Record) {
				assert.Empty(t, r.Name)
			},
		},
		{
			name: "nationality first line only",
			text: "nationality : Indian\nName: X",
			check: func(t *testing.T, r Record) {
				assert.Equal(t, "Indian", r.Nationality)
			},
		},
		{
			name: "carriage returns removed",
			text: "Nationality: India\r\nDate of Birth: 01/01/2000\r\n",
			check: func(t *testing.T, r Record) {
				assert.Equal(t, "India", r.Nationality)
				assert.Equal(t, "01/01/2000", r.DateOfBirth)
				assert.NotContains(t, r.RawText, "\r")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Extract(tt.text))
		})
	}
}

func TestExtractEmptyText(t *testing.T) {
	rec := Extract("")
	assert.True(t, rec.Empty())
	assert.False(t, rec.Terminal())
	assert.Equal(t, []string{"id_number", "name", "date_of_birth", "nationality", "gender"}, rec.Missing())
}

func TestTerminalNeedsIDAndBirthDate(t *testing.T) {
	assert.False(t, Extract("784-1990-1234567-1").Terminal())
	assert.False(t, Extract("15/06/1990").Terminal())
	assert.True(t, Extract("784-1990-1234567-1 15/06/1990").Terminal())
	assert.True(t, Extract("1234 5678 9012 15/06/1990").Terminal())
}

func TestWithoutRawText(t *testing.T) {
	rec := New(WithRawText(false)).Extract("Name: A")
	require.Equal(t, "A", rec.Name)
	assert.Empty(t, rec.RawText)
}

func TestExtractIsDeterministic(t *testing.T) {
	assert.Equal(t, Extract(emiratesCard), Extract(emiratesCard))
}
