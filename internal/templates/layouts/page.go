package layouts

import "context"

// navLink is one entry of the top navigation.
type navLink struct {
	Path  string
	Label string
}

var authedNav = []navLink{
	{"/", "Analyze"},
	{"/history", "History"},
	{"/evaluation", "Evaluation"},
	{"/about", "About"},
}

var publicNav = []navLink{
	{"/about", "About"},
	{"/login", "Sign in"},
	{"/register", "Register"},
}

// navFor picks the navigation for the current visitor.
func navFor(ctx context.Context) []navLink {
	if IsAuthenticated(ctx) {
		return authedNav
	}
	return publicNav
}
