package auth

// LoginView is the data behind the login page. Errors and notices reach
// the page as layout flash banners.
type LoginView struct {
	CSRFToken string
	Username  string
	Next      string
}

// RegisterView is the data behind the registration page. Passwords are
// never echoed back into the form.
type RegisterView struct {
	CSRFToken string
	Username  string
	Email     string
}
