package model

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
// Authentication failures carry generic messages.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SuccessResponse is returned by endpoints that only acknowledge an action.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// LoginResponse is returned after a successful login.
type LoginResponse struct {
	Success   bool   `json:"success"`
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"`
}

// SessionStatus reports whether the presented bearer token is valid.
type SessionStatus struct {
	Authenticated bool `json:"authenticated"`
}

// DispatchResponse is returned by the recovery endpoints. Sent is false on
// any internal problem; the HTTP status is always 200.
type DispatchResponse struct {
	Success bool `json:"success"`
	Sent    bool `json:"sent"`
}
