package identity

import (
	"net/mail"
	"strings"
	"unicode"

	"github.com/dacut/hpc-lab-maker/interfaces"
)

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 8

// RegisterRequest carries a registration form.
type RegisterRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	PasswordVerify string `json:"password_verify"`
	FullName       string `json:"full_name"`
	AllowContact   bool   `json:"allow_contact"`
	EventID        string `json:"event_id"`
}

// ValidationError lists every problem found in a registration request.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid registration: " + strings.Join(e.Problems, " ")
}

// ValidateRegistration checks form completeness, email syntax and the
// password policy. It does not touch the store; event validity is checked
// separately with ValidEvent.
func ValidateRegistration(req RegisterRequest) error {
	if req.Email == "" || req.Password == "" || req.PasswordVerify == "" || req.FullName == "" || req.EventID == "" {
		return &ValidationError{Problems: []string{"Missing form fields."}}
	}

	var problems []string
	if req.EventID == interfaces.ReservedEventID {
		problems = append(problems, "Unknown event code.")
	}

	addr, err := mail.ParseAddress(req.Email)
	if err != nil || addr.Address != req.Email {
		problems = append(problems, "Invalid email address.")
	}

	problems = append(problems, passwordProblems(req.Password)...)
	if req.Password != req.PasswordVerify {
		problems = append(problems, "Passwords do not match.")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func passwordProblems(password string) []string {
	var problems []string
	if len([]rune(password)) < MinPasswordLength {
		problems = append(problems, "Password is too short.")
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}

	if !upper {
		problems = append(problems, "Password does not contain an uppercase letter.")
	}
	if !lower {
		problems = append(problems, "Password does not contain a lowercase letter.")
	}
	if !digit {
		problems = append(problems, "Password does not contain a digit.")
	}
	if !symbol {
		problems = append(problems, "Password does not contain a symbol.")
	}
	if guessable(password) {
		problems = append(problems, "Password is too easy to guess.")
	}
	return problems
}

// commonPasswordWords are dictionary passwords that the character-class
// rules alone let through once decorated, e.g. "P@ssw0rd2024!".
var commonPasswordWords = map[string]bool{
	"password":      true,
	"passw":         true,
	"qwerty":        true,
	"qwertyuiop":    true,
	"asdfgh":        true,
	"letmein":       true,
	"welcome":       true,
	"admin":         true,
	"administrator": true,
	"changeme":      true,
	"iloveyou":      true,
	"monkey":        true,
	"dragon":        true,
	"football":      true,
	"baseball":      true,
	"sunshine":      true,
	"princess":      true,
	"trustno":       true,
	"abc":           true,
	"abcd":          true,
	"login":         true,
	"master":        true,
	"secret":        true,
}

var leetReplacer = strings.NewReplacer("@", "a", "0", "o", "3", "e", "$", "s", "5", "s")

// guessable strips the trailing digits and symbols people append to meet
// the policy, undoes common letter substitutions and checks what remains
// against the dictionary.
func guessable(password string) bool {
	base := strings.TrimRightFunc(password, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	base = leetReplacer.Replace(strings.ToLower(base))
	base = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return r
		}
		return -1
	}, base)
	return commonPasswordWords[base]
}
