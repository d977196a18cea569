package normalize

import "testing"

func TestEmail(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "mixed case", input: "John.Smith@Example.COM", want: "john.smith@example.com"},
		{name: "surrounding whitespace", input: "  a@b.co \t", want: "a@b.co"},
		{name: "empty", input: "", want: ""},
		{name: "whitespace only", input: "   ", want: ""},
		{name: "already normalized", input: "a@b.co", want: "a@b.co"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Email(tt.input); got != tt.want {
				t.Errorf("Email(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestPhone(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "formatted US number", input: "(555) 123-4567", want: "5551234567"},
		{name: "with country code", input: "+1 555 123 4567", want: "15551234567"},
		{name: "dots", input: "555.123.4567", want: "5551234567"},
		{name: "letters stripped", input: "555-CALL-NOW", want: "555"},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Phone(tt.input); got != tt.want {
				t.Errorf("Phone(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestPhoneMatchKey(t *testing.T) {
	if got := PhoneMatchKey("555-1234"); got != "" {
		t.Errorf("short phone should yield no match key, got %q", got)
	}
	if got := PhoneMatchKey("(555) 123-4567"); got != "5551234567" {
		t.Errorf("PhoneMatchKey = %q, want 5551234567", got)
	}
}

func TestAddress(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "street abbreviation", input: "123 Main Street", want: "123 main st"},
		{name: "avenue", input: "456 Oak Avenue", want: "456 oak ave"},
		{name: "multiple tokens", input: "789 North Elm Boulevard Apartment 4", want: "789 n elm blvd apt 4"},
		{name: "whitespace collapse", input: "  12   Pine   Road ", want: "12 pine rd"},
		{name: "no partial word replacement", input: "99 Streetman Dr", want: "99 streetman dr"},
		{name: "comma separated", input: "400 West Avenue, Austin, TX, 78701", want: "400 w ave, austin, tx, 78701"},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Address(tt.input); got != tt.want {
				t.Errorf("Address(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// The normalizers run on both sides of every comparison, so applying one
// twice must give the same result as applying it once.
func TestIdempotency(t *testing.T) {
	inputs := []string{
		"John.Smith@Example.COM",
		"(555) 123-4567",
		"123 Main Street Apartment 7",
		"  456   North Oak Avenue ",
		"",
	}

	for _, in := range inputs {
		if once, twice := Email(in), Email(Email(in)); once != twice {
			t.Errorf("Email not idempotent on %q: %q != %q", in, once, twice)
		}
		if once, twice := Phone(in), Phone(Phone(in)); once != twice {
			t.Errorf("Phone not idempotent on %q: %q != %q", in, once, twice)
		}
		if once, twice := Address(in), Address(Address(in)); once != twice {
			t.Errorf("Address not idempotent on %q: %q != %q", in, once, twice)
		}
	}
}
