package walletapi

// Wire payloads follow the game provider's callback protocol: snake_case
// fields, integer amounts in minor units, RFC 3339 timestamps.

type playActionPayload struct {
	Action   string `json:"action"`
	Amount   int64  `json:"amount"`
	ActionID string `json:"action_id"`
}

type playRequestPayload struct {
	UserID   string              `json:"user_id"`
	Currency string              `json:"currency"`
	Game     string              `json:"game"`
	GameID   string              `json:"game_id"`
	Finished bool                `json:"finished"`
	Actions  []playActionPayload `json:"actions"`
}

type rollbackActionPayload struct {
	Action           string `json:"action"`
	ActionID         string `json:"action_id"`
	OriginalActionID string `json:"original_action_id"`
}

type rollbackRequestPayload struct {
	UserID  string                  `json:"user_id"`
	GameID  string                  `json:"game_id"`
	Actions []rollbackActionPayload `json:"actions"`
}

type transactionOutcomePayload struct {
	ActionID    string `json:"action_id"`
	TxID        string `json:"tx_id"`
	ProcessedAt string `json:"processed_at"`
}

type batchResponsePayload struct {
	Balance      int64                       `json:"balance"`
	GameID       string                      `json:"game_id"`
	Transactions []transactionOutcomePayload `json:"transactions"`
}

type sessionURLsPayload struct {
	DepositURL string `json:"deposit_url"`
	ReturnURL  string `json:"return_url"`
}

type sessionRequestPayload struct {
	Game     string             `json:"game"`
	Currency string             `json:"currency"`
	Locale   string             `json:"locale"`
	URLs     sessionURLsPayload `json:"urls"`
	UserID   string             `json:"userId"`
}

type transactionPayload struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	GameID      string `json:"game_id"`
	ActionID    string `json:"action_id"`
	ActionType  string `json:"action_type"`
	Amount      int64  `json:"amount"`
	ProcessedAt string `json:"processed_at"`
	Currency    string `json:"currency"`
	Game        string `json:"game"`
}

type userPayload struct {
	UserID       string `json:"user_id"`
	Nickname     string `json:"nickname"`
	Firstname    string `json:"firstname"`
	Lastname     string `json:"lastname"`
	City         string `json:"city"`
	Country      string `json:"country"`
	DateOfBirth  string `json:"date_of_birth"`
	Gender       string `json:"gender"`
	RegisteredAt string `json:"registered_at"`
	Balance      int64  `json:"balance"`
}

type errorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Balance *int64 `json:"balance,omitempty"`
}
