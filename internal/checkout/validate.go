package checkout

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Form fields reported by ValidationError.
const (
	FieldName  = "name"
	FieldEmail = "email"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// typoDomains are suffixes that almost always mean a mistyped address.
var typoDomains = []string{"gmail.con", "gmail.hot"}

// ValidationError is an inline form error. It is never reported to telemetry.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Message }

// ValidateIdentity checks the lead form. Rules run in order and the first failure wins.
func ValidateIdentity(name, email string) error {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if utf8.RuneCountInString(name) < 2 {
		return &ValidationError{Field: FieldName, Message: "Please enter your full name."}
	}
	if email == "" || !strings.Contains(email, "@") {
		return &ValidationError{Field: FieldEmail, Message: "Please enter your email address."}
	}
	if !emailPattern.MatchString(email) {
		return &ValidationError{Field: FieldEmail, Message: "This email address does not look valid."}
	}
	for _, r := range email {
		if r > unicode.MaxASCII {
			return &ValidationError{Field: FieldEmail, Message: "Email addresses cannot contain accented characters."}
		}
	}
	lower := strings.ToLower(email)
	for _, d := range typoDomains {
		if strings.HasSuffix(lower, d) {
			return &ValidationError{Field: FieldEmail, Message: "Did you mistype the email domain?"}
		}
	}
	if strings.Contains(name, "@") {
		return &ValidationError{Field: FieldName, Message: "Your name cannot contain @."}
	}
	return nil
}

// NormalizeEmail lower-cases only the first character. Stored leads are matched on this exact form.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	r, size := utf8.DecodeRuneInString(email)
	if size == 0 {
		return email
	}
	return string(unicode.ToLower(r)) + email[size:]
}

// NormalizeName capitalises each whitespace-separated part and joins them with single spaces.
func NormalizeName(name string) string {
	parts := strings.Fields(name)
	for i, p := range parts {
		r, size := utf8.DecodeRuneInString(p)
		parts[i] = string(unicode.ToUpper(r)) + strings.ToLower(p[size:])
	}
	return strings.Join(parts, " ")
}
