package authapi

import "time"

type credentialsRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	RememberMe      bool   `json:"remember_me"`
}

type accountResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type sessionResponse struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Remember  bool      `json:"remember"`
}

type loginResponse struct {
	Account accountResponse `json:"account"`
	Session sessionResponse `json:"session"`
}

type registerResponse struct {
	Account accountResponse `json:"account"`
}

type passwordChangeResponse struct {
	Session sessionResponse `json:"session"`
}

type meResponse struct {
	Identity string          `json:"identity"`
	Account  accountResponse `json:"account"`
}
