package model

// LoggedInAs returns a copy of the session logged in as username. A known
// profile clears the new-user flag.
func (s Session) LoggedInAs(username string, profile *Profile) Session {
	s.LoggedIn = true
	s.Username = username
	if profile != nil {
		p := *profile
		s.User = &p
		s.NewUser = false
	}
	return s
}

// Onboarded returns a copy of the session holding the freshly created profile.
func (s Session) Onboarded(profile Profile) Session {
	s.User = &profile
	s.NewUser = false
	return s
}
