package extract

// IDFormat names which identity number pattern matched.
type IDFormat string

const (
	FormatNone     IDFormat = ""
	FormatEmirates IDFormat = "emirates"
	FormatGrouped  IDFormat = "grouped12"
)

// Record holds the fields found in one OCR text. Missing fields are empty
// strings.
type Record struct {
	IDNumber    string   `json:"id_number" yaml:"id_number"`
	IDFormat    IDFormat `json:"id_format,omitempty" yaml:"id_format,omitempty"`
	Name        string   `json:"name" yaml:"name"`
	DateOfBirth string   `json:"date_of_birth" yaml:"date_of_birth"`
	Nationality string   `json:"nationality" yaml:"nationality"`
	Gender      string   `json:"gender" yaml:"gender"`
	RawText     string   `json:"raw_text,omitempty" yaml:"raw_text,omitempty"`
}

// Terminal reports whether the record is complete enough to end a scan:
// both an identity number and a date of birth were found.
func (r Record) Terminal() bool {
	return r.IDNumber != "" && r.DateOfBirth != ""
}

// Empty reports whether no field was found.
func (r Record) Empty() bool {
	return r.IDNumber == "" && r.Name == "" && r.DateOfBirth == "" &&
		r.Nationality == "" && r.Gender == ""
}

// Field is one named record value.
type Field struct {
	Name  string
	Value string
}

// Fields returns the extracted values in display order.
func (r Record) Fields() []Field {
	return []Field{
		{"id_number", r.IDNumber},
		{"name", r.Name},
		{"date_of_birth", r.DateOfBirth},
		{"nationality", r.Nationality},
		{"gender", r.Gender},
	}
}

// Missing lists the field names that were not found, in display order.
func (r Record) Missing() []string {
	var out []string
	for _, f := range r.Fields() {
		if f.Value == "" {
			out = append(out, f.Name)
		}
	}
	return out
}
