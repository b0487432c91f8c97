package dto

type AuthResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type BotInviteResponse struct {
	Instructions string `json:"instructions"`
}

// ApplyResponse reports the outcome of a lifecycle action. Applied == false
// means the action was legal but its guard is not satisfied yet (for example
// the deposit has not arrived); Reason explains.
type ApplyResponse struct {
	OK      bool   `json:"ok"`
	Applied bool   `json:"applied"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}
