// blog/auth.go
package blog

import (
	"log"
	"net/http"
	"strings"
)

// SignupForm carries the registration fields back to the template when
// validation fails.
type SignupForm struct {
	Username string
	Email    string
	Errors   map[string]string
}

// SignupViewData is the data structure for the registration page.
type SignupViewData struct {
	baseData
	Form SignupForm
}

// LoginViewData is the data structure for the login page.
type LoginViewData struct {
	baseData
	Next  string
	Error string
}

func (h *Handlers) signupForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "signup.html", SignupViewData{
		baseData: h.base(r),
		Form:     SignupForm{Errors: map[string]string{}},
	})
}

func (h *Handlers) signup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	form := SignupForm{
		Username: strings.TrimSpace(r.PostFormValue("username")),
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Errors:   map[string]string{},
	}
	password := r.PostFormValue("password")

	if form.Username == "" {
		form.Errors["username"] = "This field is required."
	}
	if form.Email == "" {
		form.Errors["email"] = "This field is required."
	}
	if len(password) < 8 {
		form.Errors["password"] = "Password must be at least 8 characters."
	}
	if form.Username != "" {
		existing, err := h.db.GetUserByUsername(r.Context(), form.Username)
		if err != nil {
			h.serverError(w, r, err)
			return
		}
		if existing != nil {
			form.Errors["username"] = "This username is already taken."
		}
	}
	if len(form.Errors) > 0 {
		h.render(w, http.StatusOK, "signup.html", SignupViewData{baseData: h.base(r), Form: form})
		return
	}

	user := NewUser(form.Username, form.Email)
	if err := user.SetPassword(password); err != nil {
		h.serverError(w, r, err)
		return
	}
	if err := h.db.CreateUser(r.Context(), user); err != nil {
		h.serverError(w, r, err)
		return
	}
	log.Printf("New user registered: %s", user.Username)

	if err := h.Session.RenewToken(r.Context()); err != nil {
		h.serverError(w, r, err)
		return
	}
	h.Session.Put(r.Context(), sessionUserKey, user.ID)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handlers) loginForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "login.html", LoginViewData{
		baseData: h.base(r),
		Next:     safeNext(r.URL.Query().Get("next")),
	})
}

func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	username := strings.TrimSpace(r.PostFormValue("username"))
	password := r.PostFormValue("password")
	next := safeNext(r.PostFormValue("next"))

	user, err := h.db.GetUserByUsername(r.Context(), username)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if user != nil {
		ok, err := user.PasswordMatches(password)
		if err != nil {
			h.serverError(w, r, err)
			return
		}
		if ok {
			// Fresh session token on privilege change.
			if err := h.Session.RenewToken(r.Context()); err != nil {
				h.serverError(w, r, err)
				return
			}
			h.Session.Put(r.Context(), sessionUserKey, user.ID)
			http.Redirect(w, r, next, http.StatusSeeOther)
			return
		}
	}

	h.render(w, http.StatusOK, "login.html", LoginViewData{
		baseData: h.base(r),
		Next:     next,
		Error:    "Invalid username or password.",
	})
}

func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Destroy(r.Context()); err != nil {
		log.Printf("Error destroying session: %v", err)
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// safeNext keeps post-login redirects on this site.
func safeNext(next string) string {
	if strings.HasPrefix(next, "/") && !strings.HasPrefix(next, "//") {
		return next
	}
	return "/"
}
