package model

import "fmt"

// Profile is an employee record. Name is the display name and the key in
// the profile store.
type Profile struct {
	Username   string `json:"username"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	Department string `json:"department"`
}

func (p Profile) String() string {
	return fmt.Sprintf("%s (username: %s, role: %s, department: %s)", p.Name, p.Username, p.Role, p.Department)
}
