package models

import "strings"

// DateLayout is the on-disk format for dates of birth.
const DateLayout = "2006-01-02"

type Address struct {
	Street     string `json:"street"      yaml:"street"`
	City       string `json:"city"        yaml:"city"`
	State      string `json:"state"       yaml:"state"`
	PostalCode string `json:"postal_code" yaml:"postal_code"`
	Country    string `json:"country"     yaml:"country"`
}

// CandidateProfile holds the political and campaign fields of a candidate.
// DesiredPosition is the contested role that scopes one-vote-per-role.
type CandidateProfile struct {
	Party               string `json:"party"                yaml:"party"`
	CurrentPosition     string `json:"current_position"     yaml:"current_position"`
	DesiredPosition     string `json:"desired_position"     yaml:"desired_position"`
	TermLength          string `json:"term_length"          yaml:"term_length"`
	Education           string `json:"education"            yaml:"education"`
	Experience          string `json:"experience"           yaml:"experience"`
	Platform            string `json:"platform"             yaml:"platform"`
	Promises            string `json:"promises"             yaml:"promises"`
	PoliticalExperience string `json:"political_experience" yaml:"political_experience"`
	Vision              string `json:"vision"               yaml:"vision"`
}

type VoterRecord struct {
	Username         string            `json:"username"`
	PasswordHash     string            `json:"password,omitempty"`
	FullName         string            `json:"full_name"`
	DateOfBirth      string            `json:"date_of_birth"`
	NationalID       string            `json:"national_id"`
	Phone            string            `json:"phone"`
	Email            string            `json:"email"`
	Address          Address           `json:"address"`
	Occupation       string            `json:"occupation,omitempty"`
	Gender           string            `json:"gender"`
	IsCandidate      bool              `json:"is_candidate"`
	Candidate        *CandidateProfile `json:"candidate,omitempty"`
	RegistrationDate Timestamp         `json:"registration_date"`
}

// Role returns the contested position for candidates, or "" otherwise.
func (v VoterRecord) Role() string {
	if !v.IsCandidate || v.Candidate == nil {
		return ""
	}
	return strings.TrimSpace(v.Candidate.DesiredPosition)
}

// Party falls back to "Independent" like the candidate listings always did.
func (v VoterRecord) Party() string {
	if v.Candidate == nil || strings.TrimSpace(v.Candidate.Party) == "" {
		return "Independent"
	}
	return v.Candidate.Party
}

// Public returns a copy with the password hash stripped.
func (v VoterRecord) Public() VoterRecord {
	v.PasswordHash = ""
	if v.Candidate != nil {
		profile := *v.Candidate
		v.Candidate = &profile
	}
	return v
}

// RegistrationForm is what the presentation layer collects for both voter
// and candidate registration. Candidate is ignored for voter registration.
type RegistrationForm struct {
	Username        string            `json:"username"         yaml:"username"`
	Password        string            `json:"password"         yaml:"password"`
	ConfirmPassword string            `json:"confirm_password" yaml:"confirm_password"`
	FullName        string            `json:"full_name"        yaml:"full_name"`
	DateOfBirth     string            `json:"date_of_birth"    yaml:"date_of_birth"`
	NationalID      string            `json:"national_id"      yaml:"national_id"`
	Phone           string            `json:"phone"            yaml:"phone"`
	Email           string            `json:"email"            yaml:"email"`
	Address         Address           `json:"address"          yaml:"address"`
	Occupation      string            `json:"occupation"       yaml:"occupation"`
	Gender          string            `json:"gender"           yaml:"gender"`
	Candidate       *CandidateProfile `json:"candidate"        yaml:"candidate"`
}

// VoterPatch carries profile edits. Nil fields are left untouched.
type VoterPatch struct {
	FullName   *string           `json:"full_name,omitempty"`
	Email      *string           `json:"email,omitempty"`
	Phone      *string           `json:"phone,omitempty"`
	Address    *Address          `json:"address,omitempty"`
	Occupation *string           `json:"occupation,omitempty"`
	Gender     *string           `json:"gender,omitempty"`
	Password   *string           `json:"password,omitempty"`
	Candidate  *CandidateProfile `json:"candidate,omitempty"`
}

// Principal is the result of a successful login.
type Principal struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	FullName string `json:"full_name,omitempty"`
}

const (
	LoginVoter     = "voter"
	LoginCandidate = "candidate"
	LoginAdmin     = "admin"
)
