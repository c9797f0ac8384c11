package siws

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMalformed = errors.New("siws: malformed message")
	ErrExpired   = errors.New("siws: message expired")
	ErrNotYet    = errors.New("siws: message not yet valid")
	ErrDomain    = errors.New("siws: domain mismatch")
)

// maxIssuedSkew bounds how far in the future Issued At may be.
const maxIssuedSkew = 5 * time.Minute

func fieldFor(line string) (field, string, bool) {
	for _, f := range fields {
		if v, ok := strings.CutPrefix(line, f.label+": "); ok {
			return f, v, true
		}
	}
	return field{}, "", false
}

// ParseMessage is the inverse of ConstructMessage.
func ParseMessage(message string) (SignInInput, error) {
	var input SignInInput
	lines := strings.Split(message, "\n")
	if len(lines) < 2 {
		return input, fmt.Errorf("%w: too short", ErrMalformed)
	}
	domain, ok := strings.CutSuffix(lines[0], headerSuffix)
	if !ok || domain == "" {
		return input, fmt.Errorf("%w: invalid header", ErrMalformed)
	}
	input.Domain = domain
	input.Address = strings.TrimSpace(lines[1])
	if input.Address == "" {
		return input, fmt.Errorf("%w: missing address", ErrMalformed)
	}

	start := len(lines)
	for i := 2; i < len(lines); i++ {
		if _, _, ok := fieldFor(strings.TrimSpace(lines[i])); ok {
			start = i
			break
		}
	}
	if statement := strings.TrimSpace(strings.Join(lines[2:start], "\n")); statement != "" {
		input.Statement = strPtr(statement)
	}

	inResources := false
	for _, line := range lines[start:] {
		if inResources {
			if r, ok := strings.CutPrefix(line, "- "); ok {
				input.Resources = append(input.Resources, r)
				continue
			}
			inResources = false
		}
		if line == "Resources:" {
			inResources = true
			continue
		}
		if f, v, ok := fieldFor(line); ok {
			f.set(&input, v)
		}
	}
	if input.Nonce == "" || input.IssuedAt == "" {
		return input, fmt.Errorf("%w: nonce and issued-at are required", ErrMalformed)
	}
	return input, nil
}

func parseRFC3339(label string, v *string) (time.Time, bool, error) {
	if v == nil || *v == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, *v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: invalid %s: %v", ErrMalformed, label, err)
	}
	return t, true, nil
}

// ValidateTimestamps checks expiration, not-before and issued-at against now.
func ValidateTimestamps(input SignInInput, now time.Time) error {
	now = now.UTC()
	if exp, ok, err := parseRFC3339("expiration time", input.ExpirationTime); err != nil {
		return err
	} else if ok && now.After(exp) {
		return fmt.Errorf("%w at %s", ErrExpired, *input.ExpirationTime)
	}
	if nb, ok, err := parseRFC3339("not-before", input.NotBefore); err != nil {
		return err
	} else if ok && now.Before(nb) {
		return fmt.Errorf("%w until %s", ErrNotYet, *input.NotBefore)
	}
	if issued, ok, err := parseRFC3339("issued-at", &input.IssuedAt); err != nil {
		return err
	} else if ok && issued.After(now.Add(maxIssuedSkew)) {
		return fmt.Errorf("%w: issued in the future (%s)", ErrNotYet, input.IssuedAt)
	}
	return nil
}

// ValidateDomain checks the message was minted for this service.
func ValidateDomain(input SignInInput, expectedDomain string) error {
	if input.Domain != expectedDomain {
		return fmt.Errorf("%w: got %s, expected %s", ErrDomain, input.Domain, expectedDomain)
	}
	return nil
}
