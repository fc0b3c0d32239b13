package registry

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"ballotbox/models"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

const (
	DefaultMinVoterAge     = 18
	DefaultMinCandidateAge = 25

	minVoterPasswordLen = 6
	minAdminUsernameLen = 4
	minAdminPasswordLen = 8
)

type field struct {
	name  string
	value string
}

func requireFields(fields ...field) error {
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return models.Invalid(f.name, "is required")
		}
	}
	return nil
}

func personalFields(form *models.RegistrationForm) []field {
	return []field{
		{"username", form.Username},
		{"password", form.Password},
		{"confirm_password", form.ConfirmPassword},
		{"full_name", form.FullName},
		{"date_of_birth", form.DateOfBirth},
		{"national_id", form.NationalID},
		{"phone", form.Phone},
		{"email", form.Email},
		{"gender", form.Gender},
	}
}

func addressFields(a *models.Address) []field {
	return []field{
		{"address.street", a.Street},
		{"address.city", a.City},
		{"address.state", a.State},
		{"address.postal_code", a.PostalCode},
		{"address.country", a.Country},
	}
}

func trimAddress(a models.Address) models.Address {
	return models.Address{
		Street:     strings.TrimSpace(a.Street),
		City:       strings.TrimSpace(a.City),
		State:      strings.TrimSpace(a.State),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.TrimSpace(a.Country),
	}
}

func validatePassword(password string) error {
	if len(password) < minVoterPasswordLen {
		return models.Invalid("password", fmt.Sprintf("must be at least %d characters", minVoterPasswordLen))
	}
	return nil
}

func campaignFields(p *models.CandidateProfile) []field {
	return []field{
		{"candidate.party", p.Party},
		{"candidate.current_position", p.CurrentPosition},
		{"candidate.desired_position", p.DesiredPosition},
		{"candidate.term_length", p.TermLength},
		{"candidate.education", p.Education},
		{"candidate.experience", p.Experience},
		{"candidate.platform", p.Platform},
		{"candidate.promises", p.Promises},
		{"candidate.political_experience", p.PoliticalExperience},
		{"candidate.vision", p.Vision},
	}
}

func validateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return models.Invalid("email", "invalid email address")
	}
	return nil
}

// parseBirthDate accepts YYYY-MM-DD and rejects dates in the future.
func parseBirthDate(s string, now time.Time) (time.Time, error) {
	birth, err := time.ParseInLocation(models.DateLayout, strings.TrimSpace(s), now.Location())
	if err != nil {
		return time.Time{}, models.Invalid("date_of_birth", "must be a valid YYYY-MM-DD date")
	}
	if birth.After(now) {
		return time.Time{}, models.Invalid("date_of_birth", "is in the future")
	}
	return birth, nil
}

// calculateAge returns completed years between birthDate and now.
func calculateAge(birthDate, now time.Time) int {
	age := now.Year() - birthDate.Year()
	if now.Month() < birthDate.Month() ||
		(now.Month() == birthDate.Month() && now.Day() < birthDate.Day()) {
		age--
	}
	return age
}

func (r *Registry) checkAge(dob string, minimum int) (string, error) {
	now := r.clock.Now()
	birth, err := parseBirthDate(dob, now)
	if err != nil {
		return "", err
	}
	if age := calculateAge(birth, now); age < minimum {
		return "", models.Invalid("date_of_birth", fmt.Sprintf("must be at least %d years old", minimum))
	}
	return birth.Format(models.DateLayout), nil
}
