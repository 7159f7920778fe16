package prefs

import (
	"errors"
	"strconv"
	"time"
)

// Keys of the values the CLI remembers between runs.
const (
	KeyUsername   = "username"
	KeyRememberMe = "remember_me"
	KeyAPIToken   = "api_token"
)

// Profile is the remembered login state.
type Profile struct {
	Username   string
	RememberMe bool
	APIToken   string
}

// SaveProfile stores p. The token is only kept when RememberMe is set, and
// then for tokenTTL (zero keeps it until cleared).
func SaveProfile(s *Store, p Profile, tokenTTL time.Duration) error {
	if err := s.Set(KeyUsername, p.Username, 0); err != nil {
		return err
	}
	if err := s.Set(KeyRememberMe, strconv.FormatBool(p.RememberMe), 0); err != nil {
		return err
	}
	if !p.RememberMe || p.APIToken == "" {
		return s.Delete(KeyAPIToken)
	}
	return s.Set(KeyAPIToken, p.APIToken, tokenTTL)
}

// LoadProfile reads the remembered profile. Missing or expired entries come
// back as zero values.
func LoadProfile(s *Store) (Profile, error) {
	var p Profile
	var err error

	if p.Username, err = get(s, KeyUsername); err != nil {
		return Profile{}, err
	}
	remember, err := get(s, KeyRememberMe)
	if err != nil {
		return Profile{}, err
	}
	p.RememberMe, _ = strconv.ParseBool(remember)
	if p.APIToken, err = get(s, KeyAPIToken); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// ClearProfile forgets everything SaveProfile stored.
func ClearProfile(s *Store) error {
	return errors.Join(s.Delete(KeyUsername), s.Delete(KeyRememberMe), s.Delete(KeyAPIToken))
}

func get(s *Store, key string) (string, error) {
	v, err := s.Get(key)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) {
		return "", nil
	}
	return v, err
}
